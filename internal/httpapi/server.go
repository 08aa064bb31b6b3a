// Package httpapi is the thin HTTP translator spec §6 describes: it parses
// requests, calls into the broker core, and maps core results/errors onto
// the wire contract. It owns no durability or routing logic itself.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	brokerpkg "github.com/dcrodman/tpcbroker/internal/broker"
	"github.com/dcrodman/tpcbroker/internal/logger"
)

// Server wires the four endpoints of spec §6 onto a *broker.Broker.
type Server struct {
	b   *brokerpkg.Broker
	log logger.Logger
	mux *http.ServeMux
}

// New constructs a Server ready to be used as an http.Handler.
func New(b *brokerpkg.Broker, log logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	s := &Server{b: b, log: log, mux: http.NewServeMux()}
	s.mux.HandleFunc("POST /ingress/{topicId}", s.handleIngress)
	s.mux.HandleFunc("POST /register/{topicId}", s.handleRegister)
	s.mux.HandleFunc("GET /consume/{brokerId}/{topicId}/{partitionId}", s.handleConsume)
	s.mux.HandleFunc("POST /commit", s.handleCommit)
	return s
}

// ServeHTTP satisfies http.Handler, logging method/path/status/latency and
// a per-request correlation id for every call.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	reqID := uuid.NewString()
	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(sw, r)
	s.log.Log(logger.LogLevelInfo, "http request",
		"requestId", reqID, "method", r.Method, "path", r.URL.Path,
		"status", sw.status, "latencyMs", time.Since(start).Milliseconds())
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// --- envelopes -------------------------------------------------------------

type successEnvelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
}

type errorEnvelope struct {
	Success   bool   `json:"success"`
	ErrorCode string `json:"errorCode,omitempty"`
	Message   string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeSuccess(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, successEnvelope{Success: true, Data: data})
}

func writeBadFormat(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorEnvelope{Message: msg})
}

// writeBrokerError maps a broker.Error's Kind onto the status codes spec §6
// and §7 assign it.
func writeBrokerError(w http.ResponseWriter, err error) {
	kind := brokerpkg.KindOf(err)
	switch kind {
	case brokerpkg.KindBufferFull, brokerpkg.KindAppendFailed:
		writeJSON(w, http.StatusInternalServerError, errorEnvelope{ErrorCode: kind.String(), Message: err.Error()})
	case brokerpkg.KindTopicNotFound, brokerpkg.KindPartitionNotFound:
		writeJSON(w, http.StatusNotFound, errorEnvelope{ErrorCode: kind.String(), Message: err.Error()})
	case brokerpkg.KindNoPartitionAvailable:
		// Spec §7/§9 flag this as a 500 in the reference, with 409 noted as
		// semantically closer but not adopted; kept as 500 here.
		writeJSON(w, http.StatusInternalServerError, errorEnvelope{ErrorCode: kind.String(), Message: err.Error()})
	case brokerpkg.KindInvalidOffset:
		writeJSON(w, http.StatusBadRequest, errorEnvelope{ErrorCode: kind.String(), Message: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorEnvelope{ErrorCode: kind.String(), Message: err.Error()})
	}
}

// --- POST /ingress/:topicId -------------------------------------------------

type ingressRequest struct {
	BrokerID string `json:"brokerId"`
	Message  struct {
		MessageID string `json:"messageId"`
		Content   string `json:"content"`
	} `json:"message"`
}

type ingressData struct {
	MessageID string `json:"messageId"`
	TopicID   string `json:"topicId"`
	Timestamp int64  `json:"timestamp"`
}

func (s *Server) handleIngress(w http.ResponseWriter, r *http.Request) {
	topicID := r.PathValue("topicId")
	var req ingressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadFormat(w, "malformed ingress request body")
		return
	}
	if req.Message.MessageID == "" {
		writeBadFormat(w, "message.messageId is required")
		return
	}

	msg := brokerpkg.Message{TopicID: topicID, MessageID: req.Message.MessageID, Content: req.Message.Content}
	if err := s.b.Ingress().Push(msg); err != nil {
		writeBrokerError(w, err)
		return
	}

	writeSuccess(w, ingressData{MessageID: msg.MessageID, TopicID: topicID, Timestamp: time.Now().UnixMilli()})
}

// --- POST /register/:topicId ------------------------------------------------

type registerRequest struct {
	BrokerID   string `json:"brokerId"`
	ConsumerID string `json:"consumerId"`
}

type registerData struct {
	TopicID     string `json:"topicId"`
	BrokerID    string `json:"brokerId"`
	ConsumerID  string `json:"consumerId"`
	PartitionID uint32 `json:"partitionId"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	topicID := r.PathValue("topicId")
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadFormat(w, "malformed register request body")
		return
	}
	if req.ConsumerID == "" {
		writeBadFormat(w, "consumerId is required")
		return
	}

	pid, err := s.b.RegisterConsumer(topicID, req.ConsumerID)
	if err != nil {
		writeBrokerError(w, err)
		return
	}

	writeSuccess(w, registerData{TopicID: topicID, BrokerID: req.BrokerID, ConsumerID: req.ConsumerID, PartitionID: pid})
}

// --- GET /consume/:brokerId/:topicId/:partitionId ---------------------------

type consumeData struct {
	Messages    []brokerpkg.Message `json:"messages,omitempty"`
	Message     *brokerpkg.Message  `json:"message,omitempty"`
	Count       int                 `json:"count"`
	StartOffset uint64              `json:"startOffset,omitempty"`
	EndOffset   uint64              `json:"endOffset,omitempty"`
}

func (s *Server) handleConsume(w http.ResponseWriter, r *http.Request) {
	topicID := r.PathValue("topicId")
	partitionID, err := strconv.ParseUint(r.PathValue("partitionId"), 10, 32)
	if err != nil {
		writeBadFormat(w, "partitionId must be an integer")
		return
	}

	topic := s.b.Topic(topicID)
	if topic == nil {
		writeBrokerError(w, brokerpkg.ErrTopicNotFound)
		return
	}
	partition := topic.Partition(uint32(partitionID))
	if partition == nil {
		writeBrokerError(w, brokerpkg.ErrPartitionNotFound)
		return
	}

	batched := r.URL.Query().Get("b") == "t"
	n := 1
	if batched {
		n = 100
	}

	result, err := partition.BatchExtract(n)
	if err != nil {
		if errors.Is(err, brokerpkg.ErrBufferEmpty) {
			if batched {
				writeSuccess(w, consumeData{Messages: []brokerpkg.Message{}, Count: 0})
			} else {
				writeSuccess(w, consumeData{Message: nil, Count: 0})
			}
			return
		}
		writeBrokerError(w, err)
		return
	}

	if batched {
		writeSuccess(w, consumeData{
			Messages:    result.Messages,
			Count:       len(result.Messages),
			StartOffset: result.StartOffset,
			EndOffset:   result.EndOffset,
		})
		return
	}

	writeSuccess(w, consumeData{Message: &result.Messages[0], Count: 1, StartOffset: result.StartOffset, EndOffset: result.EndOffset})
}

// --- POST /commit ------------------------------------------------------------

type commitRequest struct {
	BrokerID    string `json:"brokerId"`
	TopicID     string `json:"topicId"`
	PartitionID uint32 `json:"partitionId"`
	ConsumerID  string `json:"consumerId"`
	Offset      uint64 `json:"offset"`
}

type commitData struct {
	Committed     bool   `json:"committed"`
	Offset        uint64 `json:"offset"`
	TopicID       string `json:"topicId"`
	PartitionID   uint32 `json:"partitionId"`
	ConsumerID    string `json:"consumerId"`
	LogEndOffset  uint64 `json:"logEndOffset"`
	NewReadOffset uint64 `json:"newReadOffset"`
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadFormat(w, "malformed commit request body")
		return
	}

	topic := s.b.Topic(req.TopicID)
	if topic == nil {
		writeBrokerError(w, brokerpkg.ErrTopicNotFound)
		return
	}
	partition := topic.Partition(req.PartitionID)
	if partition == nil {
		writeBrokerError(w, brokerpkg.ErrPartitionNotFound)
		return
	}

	// Spec §9 open question 3: the reference does not verify that
	// ConsumerID is the consumer actually assigned to this partition in
	// the TPC map. That check is intentionally not added here either.

	res, err := partition.CommitOffset(req.Offset)
	if err != nil {
		writeBrokerError(w, err)
		return
	}

	writeSuccess(w, commitData{
		Committed:     true,
		Offset:        req.Offset,
		TopicID:       req.TopicID,
		PartitionID:   req.PartitionID,
		ConsumerID:    req.ConsumerID,
		LogEndOffset:  res.LogEndOffset,
		NewReadOffset: res.NewReadOffset,
	})
}
