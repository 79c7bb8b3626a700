package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meditrek-engine/internal/domain"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func sampleReminder() domain.Reminder {
	return domain.Reminder{
		PatientID:    "p1",
		ScheduleID:   "s1",
		MedicineName: "Metformin",
		DueAt:        time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC),
		Message:      "Time to take Metformin (500 mg) at 08:00",
	}
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	require.NoError(t, NewLogNotifier(logger).Notify(context.Background(), sampleReminder()))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "p1", entry["patient_id"])
	assert.Equal(t, "Metformin", entry["medicine"])
	assert.Equal(t, "Time to take Metformin (500 mg) at 08:00", entry["msg"])
}

type funcNotifier func(ctx context.Context, r domain.Reminder) error

func (f funcNotifier) Notify(ctx context.Context, r domain.Reminder) error { return f(ctx, r) }

func TestMulti(t *testing.T) {
	var calls int32
	ok := funcNotifier(func(context.Context, domain.Reminder) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	failing := funcNotifier(func(context.Context, domain.Reminder) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("boom")
	})

	err := Multi{failing, ok}.Notify(context.Background(), sampleReminder())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel 0: boom")
	assert.Equal(t, int32(2), calls, "a failing channel does not stop the others")

	assert.NoError(t, Multi{}.Notify(context.Background(), sampleReminder()))
}

func TestFromConfig(t *testing.T) {
	hub := NewHub(testLogger())
	channels := FromConfig(domain.NotifyConfig{
		Log:            true,
		WebhookURL:     "http://localhost:9/hook",
		SendGridAPIKey: "SG.test",
		EmailFrom:      "reminders@example.com",
	}, hub, testLogger())
	require.Len(t, channels, 4)
	assert.IsType(t, &LogNotifier{}, channels[0])
	assert.IsType(t, &WebhookNotifier{}, channels[1])
	assert.Same(t, hub, channels[2])
	assert.IsType(t, &EmailNotifier{}, channels[3])

	assert.Empty(t, FromConfig(domain.NotifyConfig{}, nil, testLogger()))
}

func TestWebhookNotifier(t *testing.T) {
	received := make(chan webhookPayload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		var payload webhookPayload
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		received <- payload
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	n := NewWebhookNotifier(WebhookConfig{URL: server.URL, RateLimit: 100})
	require.NoError(t, n.Notify(context.Background(), sampleReminder()))

	payload := <-received
	assert.Equal(t, "dose_reminder", payload.Event)
	assert.Equal(t, "s1", payload.Reminder.ScheduleID)
	assert.True(t, payload.Reminder.DueAt.Equal(sampleReminder().DueAt))
}

func TestWebhookNotifier_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	n := NewWebhookNotifier(WebhookConfig{URL: server.URL, RateLimit: 100})
	err := n.Notify(context.Background(), sampleReminder())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, n.Notify(ctx, sampleReminder()))
}

func TestEmailNotifier(t *testing.T) {
	var body []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer SG.test", r.Header.Get("Authorization"))
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	n := NewEmailNotifier(EmailConfig{
		APIKey:     "SG.test",
		From:       "reminders@example.com",
		Recipients: map[string]string{"p1": "patient@example.com"},
	}, testLogger())
	n.client.Request.BaseURL = server.URL + "/v3/mail/send"

	require.NoError(t, n.Notify(context.Background(), sampleReminder()))
	assert.Contains(t, string(body), "patient@example.com")
	assert.Contains(t, string(body), "Reminder: Metformin is due")

	upper := sampleReminder()
	upper.PatientID = "P1"
	body = nil
	require.NoError(t, n.Notify(context.Background(), upper))
	assert.Contains(t, string(body), "patient@example.com", "patient ids match case-insensitively")

	other := sampleReminder()
	other.PatientID = "p2"
	body = nil
	require.NoError(t, n.Notify(context.Background(), other))
	assert.Nil(t, body, "patients without an address are skipped")
}

func TestEmailNotifier_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"errors":[{"message":"bad key"}]}`))
	}))
	defer server.Close()

	n := NewEmailNotifier(EmailConfig{APIKey: "SG.bad", From: "r@example.com", Recipients: map[string]string{"p1": "p@example.com"}}, testLogger())
	n.client.Request.BaseURL = server.URL + "/v3/mail/send"

	err := n.Notify(context.Background(), sampleReminder())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestHub(t *testing.T) {
	hub := NewHub(testLogger())
	server := httptest.NewServer(hub)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "?patient_id=p1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Subscribers("p1") == 1 }, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, hub.Notify(ctx, sampleReminder()))

	other := sampleReminder()
	other.PatientID = "p2"
	require.NoError(t, hub.Notify(ctx, other), "no subscribers is not an error")

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var msg struct {
		Event string          `json:"event"`
		Data  domain.Reminder `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "dose_reminder", msg.Event)
	assert.Equal(t, "p1", msg.Data.PatientID)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Subscribers("p1") == 0 }, time.Second, 10*time.Millisecond)
}

func TestHub_RequiresPatient(t *testing.T) {
	hub := NewHub(testLogger())
	rec := httptest.NewRecorder()
	hub.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws/reminders", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
