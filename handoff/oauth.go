package handoff

import (
	"time"

	"ticketgate/metrics"

	"github.com/rs/zerolog/log"
)

// OAuthHandoff spawns login popups. Delivery is fire-and-forget: the
// callback page posts exactly one window message and the opener accepts
// it only when the origin matches its own.
type OAuthHandoff struct {
	Opener   Opener
	Origin   string        // the opener's own origin
	Liveness time.Duration // 0 means the 500ms default
}

// OAuthSession is one login attempt. The callback page delivers its
// result through Post; a second message for the same session is ignored
// by the processing guard.
type OAuthSession struct {
	sess    *Session
	origin  string
	onLogin func(Login)
	onError func(string)
}

// Open spawns the login popup. Window creation failure returns
// ErrPopupBlocked synchronously; neither callback will fire.
func (h *OAuthHandoff) Open(url string, onLogin func(Login), onError func(string), onCancelled func()) (*OAuthSession, error) {
	os := &OAuthSession{origin: h.Origin, onLogin: onLogin, onError: onError}
	sess, err := newSession(h.Opener, url, h.Liveness, os.terminal, func() {
		metrics.HandoffOutcomesTotal.WithLabelValues("oauth", "cancelled").Inc()
		if onCancelled != nil {
			onCancelled()
		}
	})
	if err != nil {
		metrics.HandoffOutcomesTotal.WithLabelValues("oauth", "blocked").Inc()
		return nil, err
	}
	os.sess = sess
	return os, nil
}

// Post delivers a window message from the callback page. Messages from a
// foreign origin are dropped without touching the session.
func (os *OAuthSession) Post(origin string, m Message) {
	if origin != os.origin {
		log.Warn().Str("origin", origin).Str("want", os.origin).Msg("oauth: message from foreign origin dropped")
		return
	}
	switch m.Type {
	case TypeOAuthSuccess, TypeOAuthError:
		os.sess.accept(m)
	default:
		log.Debug().Str("type", m.Type).Msg("oauth: non-terminal message ignored")
	}
}

func (os *OAuthSession) terminal(m Message) {
	switch m.Type {
	case TypeOAuthSuccess:
		login, err := m.OAuthLogin()
		if err != nil {
			metrics.HandoffOutcomesTotal.WithLabelValues("oauth", "error").Inc()
			log.Error().Err(err).Msg("oauth: terminal message undecodable")
			if os.onError != nil {
				os.onError("malformed login payload")
			}
			return
		}
		metrics.HandoffOutcomesTotal.WithLabelValues("oauth", "success").Inc()
		if os.onLogin != nil {
			os.onLogin(login)
		}
	case TypeOAuthError:
		msg, err := m.OAuthErrorMessage()
		if err != nil {
			msg = "login failed"
		}
		metrics.HandoffOutcomesTotal.WithLabelValues("oauth", "error").Inc()
		if os.onError != nil {
			os.onError(msg)
		}
	}
}

// Processing reports whether a terminal message has been accepted.
func (os *OAuthSession) Processing() bool { return os.sess.Processing() }

// Close tears the popup down without firing either callback.
func (os *OAuthSession) Close() { os.sess.Close() }
