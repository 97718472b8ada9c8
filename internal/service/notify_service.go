package service

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"sync"
	"time"

	"go.uber.org/zap"

	"parkd/internal/db"
	"parkd/internal/entities"
	"parkd/internal/utils"
)

//go:embed templates/reservation_email.html
var templateFS embed.FS

var emailTemplate = template.Must(template.ParseFS(templateFS, "templates/reservation_email.html"))

const (
	expiredWarningFormat = "Your reservation was cancelled because it was not started within %d minutes of its scheduled time."
	lateWarning          = "You were parked beyond the maximum allowed time due to another reservation."
)

func expiredWarning(grace time.Duration) string {
	return fmt.Sprintf(expiredWarningFormat, int(grace.Minutes()))
}

// sendTimeout bounds one delivery attempt; notifications run detached from the
// request that triggered them.
const sendTimeout = 15 * time.Second

// Notifier tells reservation owners about outcomes they did not trigger
// themselves. Implementations must not block the caller on delivery.
type Notifier interface {
	ReservationExpired(ctx context.Context, res *db.Reservation)
	LateCompletion(ctx context.Context, res *db.Reservation, lateFee float64)
}

type NopNotifier struct{}

func (NopNotifier) ReservationExpired(context.Context, *db.Reservation)       {}
func (NopNotifier) LateCompletion(context.Context, *db.Reservation, float64) {}

// NotifyService renders notices and sends them by email and SMS in the
// background. Either sender may be nil.
type NotifyService struct {
	store  Store
	email  EmailSender
	sms    SMSSender
	civil  *utils.CivilClock
	grace  time.Duration
	logger *zap.Logger
	wg     sync.WaitGroup
}

// NewNotifyService builds a notifier. grace is the start window the sweeper
// enforces and is quoted in expiry notices.
func NewNotifyService(store Store, email EmailSender, sms SMSSender, civil *utils.CivilClock, grace time.Duration, logger *zap.Logger) *NotifyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if civil == nil {
		civil = utils.NewCivilClock("")
	}
	if grace <= 0 {
		grace = DefaultGraceWindow
	}
	return &NotifyService{store: store, email: email, sms: sms, civil: civil, grace: grace, logger: logger}
}

func (n *NotifyService) ReservationExpired(ctx context.Context, res *db.Reservation) {
	n.dispatch(ctx, res, "Your parking reservation has expired", expiredWarning(n.grace))
}

func (n *NotifyService) LateCompletion(ctx context.Context, res *db.Reservation, lateFee float64) {
	n.dispatch(ctx, res, "Late fee applied to your parking reservation",
		fmt.Sprintf("%s A late fee of %.2f was added.", lateWarning, lateFee))
}

// Wait blocks until every in-flight delivery has finished.
func (n *NotifyService) Wait() {
	n.wg.Wait()
}

func (n *NotifyService) dispatch(ctx context.Context, res *db.Reservation, subject, body string) {
	if n.email == nil && n.sms == nil {
		return
	}
	res = res.Clone()
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
		defer cancel()
		n.deliver(ctx, res, subject, body)
	}()
}

func (n *NotifyService) deliver(ctx context.Context, res *db.Reservation, subject, body string) {
	log := n.logger.With(zap.String("reservation_id", res.ID), zap.String("user_id", res.UserID))

	user, err := n.store.GetUser(ctx, res.UserID)
	if err != nil {
		log.Warn("skipping notification, user lookup failed", zap.Error(err))
		return
	}
	notice := entities.ReservationNotice{
		UserName:           user.Name,
		ReservationID:      res.ID,
		SiteName:           res.SiteID,
		VehiclePlate:       res.VehiclePlate,
		StartTimeFormatted: n.civil.Format(res.StartTime),
		Subject:            subject,
		Body:               body,
	}
	if site, err := n.store.GetSite(ctx, res.SiteID); err == nil {
		notice.SiteName = site.Name
	}

	if n.email != nil && user.Email != "" {
		var html bytes.Buffer
		if err := emailTemplate.Execute(&html, notice); err != nil {
			log.Error("failed to render notification email", zap.Error(err))
		} else if err := n.email.SendEmail(ctx, user.Email, user.Name, notice.Subject, plainText(notice), html.String()); err != nil {
			log.Warn("failed to send notification email", zap.Error(err))
		}
	}
	if n.sms != nil && user.Phone != "" {
		msg := fmt.Sprintf("Parking %s at %s: %s", notice.ReservationID, notice.SiteName, notice.Body)
		if err := n.sms.SendSMS(ctx, user.Phone, msg); err != nil {
			log.Warn("failed to send notification sms", zap.Error(err))
		}
	}
}

func plainText(n entities.ReservationNotice) string {
	return fmt.Sprintf("Hello %s,\n\n%s\n\nReservation: %s\nParking lot: %s\nStart: %s\n",
		n.UserName, n.Body, n.ReservationID, n.SiteName, n.StartTimeFormatted)
}
