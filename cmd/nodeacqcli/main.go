package main

import (
	"context"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"net/http"
	"os"
	"time"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var (
	apiURI    = flag.String("apiURI", "http://localhost:8003", "nodeacqd API URI")
	healthURI = flag.String("healthURI", "localhost:6666", "nodeacqd grpc health URI")
	query     = flag.String("query", "frame", "what to ask for: frame, position, uploads or health")
)

func main() {
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if *query == "health" {
		checkHealth(ctx)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, *apiURI+"/api/"+*query, nil)
	if err != nil {
		log.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()

	b, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		log.Fatal(err)
	}
	if resp.StatusCode == http.StatusNotFound {
		log.Println("nothing received yet")
		os.Exit(1)
	}
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("query failed: %s %s", resp.Status, b)
	}
	fmt.Println(string(b))
}

func checkHealth(ctx context.Context) {
	conn, err := grpc.Dial(*healthURI, grpc.WithInsecure())
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()

	c := healthpb.NewHealthClient(conn)
	rep, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: "grpc.health.v1.nodeacqd"})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(rep.Status)
	if rep.Status != healthpb.HealthCheckResponse_SERVING {
		os.Exit(1)
	}
}
