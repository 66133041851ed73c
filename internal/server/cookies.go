package server

import (
	"net/http"

	"github.com/gorilla/securecookie"
)

const cookieWizard = "isync_wizard"

// sessionCodec binds the wizard session id to the browser. Keys are fresh
// per process: wizard sessions live only in memory, so a cookie must not
// outlive the daemon that minted it.
type sessionCodec struct {
	sc *securecookie.SecureCookie
}

func newSessionCodec() *sessionCodec {
	return &sessionCodec{
		sc: securecookie.New(securecookie.GenerateRandomKey(64), securecookie.GenerateRandomKey(32)),
	}
}

func (c *sessionCodec) set(w http.ResponseWriter, sessionID string) error {
	v, err := c.sc.Encode(cookieWizard, map[string]string{"sid": sessionID})
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cookieWizard,
		Value:    v,
		Path:     "/api/v1/wizard",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (c *sessionCodec) get(r *http.Request) (string, bool) {
	ck, err := r.Cookie(cookieWizard)
	if err != nil {
		return "", false
	}
	var m map[string]string
	if err := c.sc.Decode(cookieWizard, ck.Value, &m); err != nil {
		return "", false
	}
	sid := m["sid"]
	return sid, sid != ""
}

func (c *sessionCodec) clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieWizard,
		Value:    "",
		Path:     "/api/v1/wizard",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
