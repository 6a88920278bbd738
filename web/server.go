package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/akhenakh/nodeacq/frame"
	"github.com/akhenakh/nodeacq/offload"
)

// FrameSource gives access to the last decoded frame.
type FrameSource interface {
	LastFrame() (*frame.Frame, time.Time, bool)
}

// UploadSource lists the capture files waiting for upload.
type UploadSource interface {
	Pending() []offload.Task
}

type Server struct {
	appName string
	logger  log.Logger
	frames  FrameSource
	uploads UploadSource
}

// FrameResponse is the payload of /api/frame.
type FrameResponse struct {
	Received time.Time    `json:"received"`
	Frame    *frame.Frame `json:"frame"`
}

// UploadResponse is one entry of /api/uploads.
type UploadResponse struct {
	Bucket     string `json:"bucket"`
	LocalPath  string `json:"local_path"`
	RemotePath string `json:"remote_path"`
}

func NewServer(appName string, logger log.Logger, frames FrameSource, uploads UploadSource) *Server {
	logger = log.With(logger, "component", "web")
	return &Server{
		appName: appName,
		logger:  logger,
		frames:  frames,
		uploads: uploads,
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/frame", s.FrameQuery).Methods(http.MethodGet)
	r.HandleFunc("/api/position", s.PositionQuery).Methods(http.MethodGet)
	r.HandleFunc("/api/uploads", s.UploadsQuery).Methods(http.MethodGet)

	return handlers.CompressHandler(
		handlers.CORS(handlers.AllowedOrigins([]string{"*"}))(r),
	)
}

func (s *Server) startSpan(operationName string, r *http.Request) opentracing.Span {
	wireContext, err := opentracing.GlobalTracer().Extract(
		opentracing.HTTPHeaders,
		opentracing.HTTPHeadersCarrier(r.Header))
	if err != nil {
		level.Debug(s.logger).Log("msg", "can't find a span", "error", err)
	}

	return opentracing.StartSpan(
		operationName,
		ext.RPCServerOption(wireContext))
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		level.Error(s.logger).Log("msg", "can't marshal json", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(err.Error()))
		return
	}
	w.Write(b)
}

// FrameQuery returns the last decoded frame.
func (s *Server) FrameQuery(w http.ResponseWriter, r *http.Request) {
	span := s.startSpan("/api/frame", r)
	defer span.Finish()

	f, received, ok := s.frames.LastFrame()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	s.writeJSON(w, &FrameResponse{Received: received, Frame: f})
}

// PositionQuery returns the last GPS fix as a GeoJSON feature.
func (s *Server) PositionQuery(w http.ResponseWriter, r *http.Request) {
	span := s.startSpan("/api/position", r)
	defer span.Finish()

	f, received, ok := s.frames.LastFrame()
	if !ok || !f.HasGPSFix() {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	feat := &geojson.Feature{
		Geometry: geom.NewPointFlat(geom.XYZ, []float64{f.Longitude, f.Latitude, f.Elevation}),
		Properties: map[string]interface{}{
			"satellites": f.SatelliteCount,
			"speed":      f.Speed,
			"angle":      f.Angle,
			"received":   received,
		},
	}
	if f.Timestamp != nil {
		feat.Properties["ts"] = *f.Timestamp
	}

	b, err := feat.MarshalJSON()
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(err.Error()))
		return
	}

	w.Header().Set("Content-Type", "application/geo+json")
	w.Write(b)
}

// UploadsQuery lists the capture files waiting for upload, oldest first.
func (s *Server) UploadsQuery(w http.ResponseWriter, r *http.Request) {
	span := s.startSpan("/api/uploads", r)
	defer span.Finish()

	tasks := s.uploads.Pending()
	res := make([]UploadResponse, len(tasks))
	for i, t := range tasks {
		res[i] = UploadResponse{Bucket: t.Bucket, LocalPath: t.LocalPath, RemotePath: t.RemotePath}
	}

	w.Header().Set("Content-Type", "application/json")
	s.writeJSON(w, res)
}
