package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dcrodman/tpcbroker/internal/broker"
)

func newTestServer(t *testing.T) (*Server, *broker.Broker) {
	t.Helper()
	dir := t.TempDir()
	b, err := broker.New(broker.Config{
		BrokerID:    "b1",
		DataRoot:    dir,
		Topics:      []broker.TopicSpec{{TopicID: "orders", PartitionCount: 2}},
		IngressWAL:  filepath.Join(dir, "ingress.log"),
		IngressMeta: filepath.Join(dir, "ingress_metadata.log"),
		TPCLogPath:  filepath.Join(dir, "TPC.log"),
	})
	require.NoError(t, err)
	return New(b, nil), b
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHandleIngressAccepts(t *testing.T) {
	s, _ := newTestServer(t)

	payload := `{"brokerId":"b1","message":{"messageId":"m1","content":"hello"}}`
	req := httptest.NewRequest(http.MethodPost, "/ingress/orders", bytes.NewBufferString(payload))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeEnvelope(t, rec)
	require.Equal(t, true, body["success"])
}

func TestHandleIngressRejectsMalformedBody(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/ingress/orders", bytes.NewBufferString("not json"))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRegisterAssignsPartitionThenIsIdempotent(t *testing.T) {
	s, _ := newTestServer(t)

	payload := `{"brokerId":"b1","consumerId":"c1"}`
	req := httptest.NewRequest(http.MethodPost, "/register/orders", bytes.NewBufferString(payload))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	first := decodeEnvelope(t, rec)["data"].(map[string]interface{})

	req2 := httptest.NewRequest(http.MethodPost, "/register/orders", bytes.NewBufferString(payload))
	rec2 := httptest.NewRecorder()
	s.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code)
	second := decodeEnvelope(t, rec2)["data"].(map[string]interface{})

	require.Equal(t, first["partitionId"], second["partitionId"])
}

func TestHandleRegisterUnknownTopicIs404(t *testing.T) {
	s, _ := newTestServer(t)

	payload := `{"brokerId":"b1","consumerId":"c1"}`
	req := httptest.NewRequest(http.MethodPost, "/register/missing", bytes.NewBufferString(payload))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleConsumeEmptyBufferReturnsZeroCount(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/consume/b1/orders/0", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeEnvelope(t, rec)["data"].(map[string]interface{})
	require.Equal(t, float64(0), data["count"])
}

func TestHandleConsumeUnknownPartitionIs404(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/consume/b1/orders/9", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleConsumeThenCommitRoundTrip(t *testing.T) {
	s, b := newTestServer(t)

	topic := b.Topic("orders")
	require.NoError(t, topic.Partition(0).Push(broker.Message{TopicID: "orders", MessageID: "m1", Content: "x"}))

	req := httptest.NewRequest(http.MethodGet, "/consume/b1/orders/0", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeEnvelope(t, rec)["data"].(map[string]interface{})
	require.Equal(t, float64(1), data["count"])
	endOffset := data["endOffset"].(float64)

	commitPayload, err := json.Marshal(commitRequest{
		BrokerID: "b1", TopicID: "orders", PartitionID: 0, ConsumerID: "c1", Offset: uint64(endOffset),
	})
	require.NoError(t, err)
	commitReq := httptest.NewRequest(http.MethodPost, "/commit", bytes.NewBuffer(commitPayload))
	commitRec := httptest.NewRecorder()
	s.ServeHTTP(commitRec, commitReq)

	require.Equal(t, http.StatusOK, commitRec.Code)
	commitData := decodeEnvelope(t, commitRec)["data"].(map[string]interface{})
	require.Equal(t, true, commitData["committed"])
}

func TestHandleCommitInvalidOffsetIs400(t *testing.T) {
	s, _ := newTestServer(t)

	payload, err := json.Marshal(commitRequest{BrokerID: "b1", TopicID: "orders", PartitionID: 0, ConsumerID: "c1", Offset: 999})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/commit", bytes.NewBuffer(payload))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
