package panelauth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/MrEthical07/panelauth/internal"
	"github.com/MrEthical07/panelauth/storage"
)

// OTPCoordinator issues and checks numeric codes delivered over a notify
// channel. At most one code per user and channel is live at a time.
type OTPCoordinator struct {
	engine *Engine
}

// SendCode invalidates earlier codes for (userID, channel), stores a new
// one and delivers it. Delivery details are logged, never returned.
func (o *OTPCoordinator) SendCode(ctx context.Context, userID, channel string) error {
	e := o.engine
	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrUserNotFound
		}
		return storeErr(err)
	}
	address, err := deliveryAddress(user, TwoFactorMethod(channel))
	if err != nil {
		return err
	}

	if err := e.limiter.HitOTPSend(ctx, userID); err != nil {
		return throttleErr(err)
	}

	code, err := internal.NewOTP(e.config.TwoFactor.CodeDigits)
	if err != nil {
		return err
	}
	now := e.now()
	if err := e.codes.ReplaceCode(ctx, storage.DeliveredCode{
		UserID:    userID,
		Channel:   channel,
		CodeHash:  hashCode(userID, channel, code),
		CreatedAt: now,
		ExpiresAt: now.Add(e.config.TwoFactor.CodeTTL),
	}); err != nil {
		return storeErr(err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, e.config.Delivery.Timeout)
	defer cancel()

	body := fmt.Sprintf("Your verification code is %s. It expires in %s.", code, e.config.TwoFactor.CodeTTL)
	if err := e.notifier.Send(sendCtx, channel, address, "Verification code", body); err != nil {
		e.metricInc(MetricOTPDeliveryFailed)
		log.WithError(err).WithFields(log.Fields{"user_id": userID, "channel": channel}).Warn("verification code delivery failed")
		e.emitAudit(ctx, auditEventOTPDeliveryFailed, false, userID, ErrDeliveryFailed, func() map[string]string {
			return map[string]string{"channel": channel}
		})
		return ErrDeliveryFailed
	}

	e.metricInc(MetricOTPSent)
	e.emitAudit(ctx, auditEventOTPSent, true, userID, nil, func() map[string]string {
		return map[string]string{"channel": channel}
	})
	return nil
}

// VerifyCode consumes a live code for (userID, channel). It reports false
// for wrong, expired and already used codes.
func (o *OTPCoordinator) VerifyCode(ctx context.Context, userID, code, channel string) (bool, error) {
	e := o.engine
	if code == "" {
		return false, nil
	}
	now := e.now()

	active, err := e.codes.ActiveCodes(ctx, userID, channel, now)
	if err != nil {
		return false, storeErr(err)
	}
	want := []byte(hashCode(userID, channel, code))
	matchID := ""
	for _, c := range active {
		if subtle.ConstantTimeCompare([]byte(c.CodeHash), want) == 1 {
			matchID = c.ID
		}
	}
	if matchID == "" {
		return false, nil
	}

	used, err := e.codes.MarkCodeUsed(ctx, matchID, now)
	if err != nil {
		return false, storeErr(err)
	}
	if _, err := e.codes.DeleteStaleCodes(ctx, userID, now); err != nil {
		log.WithError(err).WithField("user_id", userID).Debug("stale code cleanup failed")
	}
	return used, nil
}

func deliveryAddress(user AdminUser, method TwoFactorMethod) (string, error) {
	switch method {
	case MethodEmail:
		return user.Email, nil
	case MethodTelegram:
		// An empty chat id falls back to the sender's default chat.
		return user.TelegramChatID, nil
	case MethodSlack, MethodDiscord:
		return "", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedChannel, method)
	}
}

func hashCode(userID, channel, code string) string {
	sum := sha256.Sum256([]byte(userID + ":" + channel + ":" + code))
	return hex.EncodeToString(sum[:])
}
