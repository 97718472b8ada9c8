package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parkd/internal/db"
	"parkd/internal/repository"
	"parkd/internal/utils"
)

type sentMessage struct {
	to, subject, body, html string
}

type fakeSender struct {
	mu   sync.Mutex
	fail error
	sent []sentMessage
}

func (f *fakeSender) SendEmail(_ context.Context, toEmail, _, subject, plainText, html string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{to: toEmail, subject: subject, body: plainText, html: html})
	return f.fail
}

func (f *fakeSender) SendSMS(_ context.Context, to, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{to: to, body: body})
	return f.fail
}

func notifyFixture(t *testing.T) (*repository.MemoryStore, *db.Reservation) {
	store := repository.NewMemoryStore()
	require.NoError(t, store.InsertSite(context.Background(), testSite("s1", 1, 1)))
	store.PutUser(db.User{ID: "u1", Name: "Priya", Email: "priya@example.com", Phone: "+919800000000"})
	return store, &db.Reservation{ID: "r1", UserID: "u1", SiteID: "s1", VehiclePlate: "TN01AB1234", StartTime: t0}
}

func TestNotifyService_Expired(t *testing.T) {
	store, res := notifyFixture(t)
	email, sms := &fakeSender{}, &fakeSender{}
	n := NewNotifyService(store, email, sms, utils.NewCivilClock("Asia/Kolkata"), 0, nil)

	n.ReservationExpired(context.Background(), res)
	n.Wait()

	require.Len(t, email.sent, 1)
	assert.Equal(t, "priya@example.com", email.sent[0].to)
	assert.Equal(t, "Your parking reservation has expired", email.sent[0].subject)
	assert.Contains(t, email.sent[0].body, "Lot s1")
	assert.Contains(t, email.sent[0].body, "01 Jun 2025, 03:30 PM IST")
	assert.Contains(t, email.sent[0].html, "TN01AB1234")

	require.Len(t, sms.sent, 1)
	assert.Equal(t, "+919800000000", sms.sent[0].to)
	assert.Contains(t, sms.sent[0].body, "not started within 15 minutes of its scheduled time")
}

func TestNotifyService_ExpiredQuotesConfiguredGraceWindow(t *testing.T) {
	store, res := notifyFixture(t)
	sms := &fakeSender{}
	n := NewNotifyService(store, nil, sms, utils.NewCivilClock("UTC"), 20*time.Minute, nil)

	n.ReservationExpired(context.Background(), res)
	n.Wait()

	require.Len(t, sms.sent, 1)
	assert.Contains(t, sms.sent[0].body, "not started within 20 minutes of its scheduled time")
	assert.NotContains(t, sms.sent[0].body, "15 minutes")
}

func TestNotifyService_LateCompletion(t *testing.T) {
	store, res := notifyFixture(t)
	email := &fakeSender{}
	n := NewNotifyService(store, email, nil, nil, 0, nil)
	n.civil = utils.NewCivilClock("UTC")

	n.LateCompletion(context.Background(), res, 45)
	n.Wait()

	require.Len(t, email.sent, 1)
	assert.Contains(t, email.sent[0].body, "A late fee of 45.00 was added.")
}

func TestNotifyService_FailuresAreSwallowed(t *testing.T) {
	store, res := notifyFixture(t)
	email := &fakeSender{fail: errors.New("rate limited")}
	n := NewNotifyService(store, email, email, utils.NewCivilClock("UTC"), 0, nil)

	n.ReservationExpired(context.Background(), res)
	n.Wait()
	assert.Len(t, email.sent, 2)

	res.UserID = "unknown"
	n.ReservationExpired(context.Background(), res)
	n.Wait()
	assert.Len(t, email.sent, 2)
}

func TestNotifyService_NoSenders(t *testing.T) {
	store, res := notifyFixture(t)
	n := NewNotifyService(store, nil, nil, utils.NewCivilClock("UTC"), 0, nil)
	n.ReservationExpired(context.Background(), res)
	n.Wait()
}
