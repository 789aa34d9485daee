package tolino

import (
	"context"

	"go.uber.org/zap"
)

const (
	localStorageKeysScript   = `Object.keys(window.localStorage)`
	sessionStorageKeysScript = `Object.keys(window.sessionStorage)`
	indexedDBNamesScript     = `(window.indexedDB && indexedDB.databases ? ` +
		`indexedDB.databases().then(dbs => dbs.map(db => db.name)) : Promise.resolve([]))` +
		`.catch(() => [])`

	oauthCookie = "OAUTH-JSESSIONID"
)

// logStorage dumps what the webreader keeps client side. Session problems with
// the partner-shop OAuth flow show up here first. Values are never logged.
func (d *Driver) logStorage(ctx context.Context, milestone string) {
	if !d.cfg.DebugStorage {
		return
	}
	log := d.logger.With(zap.String("milestone", milestone))
	if loc, err := d.page.Location(ctx); err == nil {
		log = log.With(zap.String("url", loc))
	}

	cookies, err := d.page.Cookies(ctx)
	if err != nil {
		log.Warn("read cookies failed", zap.Error(err))
	}
	for _, c := range cookies {
		log.Info("cookie",
			zap.String("name", c.Name),
			zap.String("domain", c.Domain),
			zap.String("path", c.Path),
			zap.Bool("secure", c.Secure),
			zap.Bool("http_only", c.HTTPOnly),
			zap.Time("expires", c.Expires),
			zap.Int("value_len", len(c.Value)),
			zap.Bool("oauth", c.Name == oauthCookie),
		)
	}
	if len(cookies) == 0 {
		log.Info("no cookies found")
	}

	for _, probe := range []struct {
		name   string
		script string
	}{
		{"local_storage", localStorageKeysScript},
		{"session_storage", sessionStorageKeysScript},
		{"indexed_db", indexedDBNamesScript},
	} {
		var keys []string
		if err := d.page.Evaluate(ctx, probe.script, &keys); err != nil {
			log.Warn("read "+probe.name+" failed", zap.Error(err))
			continue
		}
		log.Info(probe.name, zap.Strings("keys", keys))
	}
}
