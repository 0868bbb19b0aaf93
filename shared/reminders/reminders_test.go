package reminders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockSessionStore implements SessionStore for testing.
type MockSessionStore struct {
	mu       sync.Mutex
	sessions []Session
	notified map[string]bool
}

func NewMockSessionStore(sessions ...Session) *MockSessionStore {
	return &MockSessionStore{sessions: sessions, notified: make(map[string]bool)}
}

func (m *MockSessionStore) EndingSessions(ctx context.Context, from, to time.Time) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []Session
	for _, s := range m.sessions {
		if m.notified[s.ReservationID] || s.EndsAt.Before(from) || s.EndsAt.After(to) {
			continue
		}
		result = append(result, s)
	}
	return result, nil
}

func (m *MockSessionStore) MarkNotified(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notified[id] = true
	return nil
}

func (m *MockSessionStore) Notified(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.notified[id]
}

// MockNotifier returns queued errors, then succeeds.
type MockNotifier struct {
	mu     sync.Mutex
	errs   []error
	sent   []Session
	calls  int
	minute []int
}

func (m *MockNotifier) SendSessionEnding(ctx context.Context, s Session, minutesLeft int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		if err != nil {
			return err
		}
	}
	m.sent = append(m.sent, s)
	m.minute = append(m.minute, minutesLeft)
	return nil
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Debug(string, ...interface{}) {}

var base = time.Date(2026, 10, 20, 11, 50, 0, 0, time.UTC)

func fastRetry() SenderConfig {
	return SenderConfig{
		PerSecond: 1000,
		Burst:     10,
		Retry:     RetryConfig{MaxRetries: 2, RetryDelays: []time.Duration{time.Millisecond, time.Millisecond}},
	}
}

func newScheduler(store *MockSessionStore, notifier *MockNotifier, metrics *Metrics) *Scheduler {
	sender := NewSender(notifier, store, fastRetry(), metrics, nopLogger{})
	return NewScheduler(SchedulerConfig{Lead: 10 * time.Minute, CheckInterval: time.Millisecond},
		store, sender, metrics, func() time.Time { return base }, nopLogger{})
}

func TestRunNowSendsNoticesOnce(t *testing.T) {
	store := NewMockSessionStore(
		Session{ReservationID: "r1", ChatID: 42, EndsAt: base.Add(8 * time.Minute), Stations: []string{"PC01"}},
		Session{ReservationID: "r2", ChatID: 42, EndsAt: base.Add(40 * time.Minute)},
		Session{ReservationID: "r3", ChatID: 0, EndsAt: base.Add(5 * time.Minute)},
	)
	notifier := &MockNotifier{}
	metrics := NewMetrics("test", prometheus.NewRegistry())
	s := newScheduler(store, notifier, metrics)

	stats := s.RunNow(context.Background())
	assert.Equal(t, Stats{Total: 2, Sent: 1, Skipped: 1}, stats)
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, "r1", notifier.sent[0].ReservationID)
	assert.Equal(t, 8, notifier.minute[0])
	assert.True(t, store.Notified("r1"))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.NoticesTotal.WithLabelValues(outcomeSent)))

	stats = s.RunNow(context.Background())
	assert.Equal(t, 1, stats.Total, "only the session without a chat is left")
	assert.Equal(t, 1, notifier.calls)
}

func TestSendWithRetry(t *testing.T) {
	session := Session{ReservationID: "r1", ChatID: 7, EndsAt: base.Add(5 * time.Minute)}

	t.Run("TransientErrorRetried", func(t *testing.T) {
		store := NewMockSessionStore(session)
		notifier := &MockNotifier{errs: []error{errors.New("network down"), &TelegramError{Code: 429, RetryAfter: 0}}}
		sender := NewSender(notifier, store, fastRetry(), nil, nopLogger{})

		outcome, err := sender.SendWithRetry(context.Background(), session, base)
		require.NoError(t, err)
		assert.Equal(t, outcomeSent, outcome)
		assert.Equal(t, 3, notifier.calls)
		assert.True(t, store.Notified("r1"))
	})

	t.Run("BlockedChatDropped", func(t *testing.T) {
		store := NewMockSessionStore(session)
		notifier := &MockNotifier{errs: []error{&TelegramError{Code: 403, Message: "Forbidden"}}}
		sender := NewSender(notifier, store, fastRetry(), nil, nopLogger{})

		outcome, err := sender.SendWithRetry(context.Background(), session, base)
		require.NoError(t, err)
		assert.Equal(t, outcomeDropped, outcome)
		assert.Equal(t, 1, notifier.calls)
		assert.True(t, store.Notified("r1"))
	})

	t.Run("RetriesExhausted", func(t *testing.T) {
		store := NewMockSessionStore(session)
		boom := errors.New("boom")
		notifier := &MockNotifier{errs: []error{boom, boom, boom, boom}}
		sender := NewSender(notifier, store, fastRetry(), nil, nopLogger{})

		outcome, err := sender.SendWithRetry(context.Background(), session, base)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, outcomeFailed, outcome)
		assert.Equal(t, 3, notifier.calls)
		assert.False(t, store.Notified("r1"))
	})
}

type fakeBot struct {
	sent []tgbotapi.Chattable
	err  error
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, f.err
}

func TestTelegramNotifier(t *testing.T) {
	session := Session{
		ReservationID: "r1",
		VenueName:     "Arena",
		ChatID:        99,
		Customer:      "Sam",
		Stations:      []string{"PC01", "PC02"},
		EndsAt:        time.Date(2026, 10, 20, 14, 0, 0, 0, time.UTC),
	}

	bot := &fakeBot{}
	n := &TelegramNotifier{bot: bot}
	require.NoError(t, n.SendSessionEnding(context.Background(), session, 10))
	require.Len(t, bot.sent, 1)
	msg, ok := bot.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(99), msg.ChatID)
	assert.Contains(t, msg.Text, "Session ending in 10 min at Arena")
	assert.Contains(t, msg.Text, "Stations: PC01, PC02")
	assert.Contains(t, msg.Text, "Ends at: 02:00 PM")

	bot.err = &tgbotapi.Error{Code: 429, Message: "Too Many Requests", ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 3}}
	err := n.SendSessionEnding(context.Background(), session, 10)
	tgErr, ok := IsTelegramError(err)
	require.True(t, ok)
	assert.Equal(t, 429, tgErr.Code)
	assert.Equal(t, 3, tgErr.RetryAfter)
}

func TestSchedulerStartStop(t *testing.T) {
	store := NewMockSessionStore(Session{ReservationID: "r1", ChatID: 1, EndsAt: base.Add(time.Minute)})
	notifier := &MockNotifier{}
	s := newScheduler(store, notifier, nil)

	done := make(chan struct{})
	go func() {
		s.Start(context.Background())
		close(done)
	}()

	assert.Eventually(t, func() bool { return store.Notified("r1") }, time.Second, 5*time.Millisecond)
	assert.True(t, s.IsRunning())
	s.Stop()
	<-done
	assert.False(t, s.IsRunning())
}

func TestMinutesLeft(t *testing.T) {
	s := Session{EndsAt: base.Add(90 * time.Second)}
	assert.Equal(t, 1, s.MinutesLeft(base))
	assert.Equal(t, 0, s.MinutesLeft(base.Add(2*time.Minute)))
}
