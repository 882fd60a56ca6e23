package http

import (
	"errors"
	"html/template"
	nethttp "net/http"

	"go.uber.org/zap"

	"go-helpdesk-insights-ui/internal/auth"
)

func dashboardHandler(w nethttp.ResponseWriter, r *nethttp.Request) {
	if r.URL.Path != "/" {
		nethttp.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(nethttp.StatusOK)
	_, _ = w.Write([]byte(dashboardHTML))
}

func faviconHandler(w nethttp.ResponseWriter, _ *nethttp.Request) {
	w.WriteHeader(nethttp.StatusNoContent)
}

type loginPage struct {
	Error string
}

func renderLogin(w nethttp.ResponseWriter, code int, page loginPage) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	_ = loginTemplate.Execute(w, page)
}

// loginHandler shows the password form and opens a session on success.
func loginHandler(gate *auth.Gate, logger *zap.Logger) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		switch r.Method {
		case nethttp.MethodGet:
			if !gate.Configured() {
				renderLogin(w, nethttp.StatusServiceUnavailable, loginPage{Error: auth.ErrNotConfigured.Error()})
				return
			}
			if gate.Authenticated(r) {
				nethttp.Redirect(w, r, "/", nethttp.StatusSeeOther)
				return
			}
			renderLogin(w, nethttp.StatusOK, loginPage{})
		case nethttp.MethodPost:
			if err := r.ParseForm(); err != nil {
				renderLogin(w, nethttp.StatusBadRequest, loginPage{Error: "invalid form"})
				return
			}
			token, expires, err := gate.Login(r.PostFormValue("password"))
			switch {
			case errors.Is(err, auth.ErrNotConfigured):
				renderLogin(w, nethttp.StatusServiceUnavailable, loginPage{Error: err.Error()})
				return
			case err != nil:
				logger.Warn("login rejected", zap.String("remote", r.RemoteAddr))
				renderLogin(w, nethttp.StatusUnauthorized, loginPage{Error: "wrong password"})
				return
			}
			auth.SetCookie(w, token, expires, r.TLS != nil)
			nethttp.Redirect(w, r, "/", nethttp.StatusSeeOther)
		default:
			w.Header().Set("Allow", "GET, POST")
			nethttp.Error(w, "method not allowed", nethttp.StatusMethodNotAllowed)
		}
	}
}

func logoutHandler(gate *auth.Gate) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if !requireMethod(w, r, nethttp.MethodPost) {
			return
		}
		if c, err := r.Cookie(auth.CookieName); err == nil {
			gate.Logout(c.Value)
		}
		auth.ClearCookie(w)
		nethttp.Redirect(w, r, "/login", nethttp.StatusSeeOther)
	}
}

var loginTemplate = template.Must(template.New("login").Parse(`<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Helpdesk Insights · Login</title>
  <style>` + baseCSS + `
    form { max-width: 320px; margin: 12vh auto; background: #fff; padding: 24px; border-radius: 8px; box-shadow: 0 1px 4px rgba(0,0,0,.12); }
    input { width: 100%; padding: 8px; margin: 12px 0; box-sizing: border-box; }
  </style>
</head>
<body>
  <form method="post" action="/login">
    <h1>Helpdesk Insights</h1>
    {{if .Error}}<p class="error">{{.Error}}</p>{{end}}
    <label for="password">Password</label>
    <input id="password" name="password" type="password" autocomplete="current-password" autofocus />
    <button type="submit">Sign in</button>
  </form>
</body>
</html>
`))

const baseCSS = `
    :root { --brand: #1f6feb; --bad: #c62828; --muted: #6b7280; }
    body { font-family: system-ui, sans-serif; margin: 0; background: #f4f6f8; color: #1f2328; }
    h1 { font-size: 20px; margin: 0 0 12px; }
    button { background: var(--brand); color: #fff; border: 0; border-radius: 4px; padding: 8px 14px; cursor: pointer; }
    .error { color: var(--bad); }
`

const dashboardHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Helpdesk Insights</title>
  <style>` + baseCSS + `
    header { display: flex; align-items: center; gap: 12px; padding: 12px 20px; background: #fff; border-bottom: 1px solid #d0d7de; }
    header form { margin-left: auto; }
    nav button { background: #fff; color: var(--brand); border: 1px solid var(--brand); }
    nav button.active { background: var(--brand); color: #fff; }
    main { padding: 20px; }
    .filters { display: flex; flex-wrap: wrap; gap: 8px; align-items: end; margin-bottom: 16px; }
    .filters label { display: flex; flex-direction: column; font-size: 12px; color: var(--muted); }
    .banner { padding: 8px 12px; border-radius: 4px; margin-bottom: 12px; }
    .banner.empty { background: #eef2f7; }
    .banner.transient_error { background: #fff4e5; }
    .banner.fatal_error { background: #fdecea; color: var(--bad); }
    .banner.partial { background: #fff8c5; }
    pre { background: #fff; padding: 12px; border-radius: 6px; overflow: auto; max-height: 70vh; }
    #progress { font-size: 12px; color: var(--muted); }
  </style>
</head>
<body>
  <header>
    <h1>Helpdesk Insights</h1>
    <nav>
      <button data-report="limbo" class="active">Limbo</button>
      <button data-report="monitor">Monitor</button>
      <button data-report="csat">CSAT</button>
      <button data-report="volume">Volume</button>
      <button data-report="away">Away</button>
      <button data-report="attributes">Attributes</button>
      <button data-report="analyst">Analyst</button>
      <button data-report="archive/tickets">Archive</button>
    </nav>
    <form method="post" action="/logout"><button type="submit">Logout</button></form>
  </header>
  <main>
    <div class="filters">
      <label>From <input type="date" id="date_from" /></label>
      <label>To <input type="date" id="date_to" /></label>
      <label>Admin id <input id="admin_id" size="10" /></label>
      <label>Search <input id="q" size="14" /></label>
      <button id="refresh">Refresh</button>
      <button id="export">Export attributes</button>
      <button id="clear">Clear cache</button>
      <span id="progress"></span>
    </div>
    <div id="banner"></div>
    <pre id="out">Loading…</pre>
  </main>
  <script>
    let report = "limbo";
    const $ = (id) => document.getElementById(id);
    function query() {
      const p = new URLSearchParams();
      for (const k of ["date_from", "date_to", "admin_id", "q"]) {
        if ($(k).value) p.set(k, $(k).value);
      }
      return p.toString();
    }
    function banner(meta) {
      const b = $("banner");
      b.className = "";
      b.textContent = "";
      if (!meta) return;
      if (meta.partial) { b.className = "banner partial"; b.textContent = "Partial data: " + (meta.error || "some pages failed"); return; }
      if (meta.status && meta.status !== "ok") {
        b.className = "banner " + meta.status;
        b.textContent = meta.status === "empty" ? "No data for this range." : (meta.error || meta.status);
      }
    }
    async function load() {
      $("out").textContent = "Loading…";
      const res = await fetch("/api/v1/" + report + "?" + query(), { credentials: "same-origin" });
      if (res.status === 401) { location.href = "/login"; return; }
      const body = await res.json();
      banner(body.meta || (body.error ? { status: "fatal_error", error: body.error } : null));
      $("out").textContent = JSON.stringify(body.data ?? body, null, 2);
    }
    async function progress() {
      const res = await fetch("/api/v1/progress", { credentials: "same-origin" });
      if (!res.ok) return;
      const body = await res.json();
      const notices = (body.data && body.data.notices) || [];
      $("progress").textContent = notices.length ? "API busy, waiting " + Math.round(notices[notices.length - 1].wait / 1e9) + "s" : "";
    }
    document.querySelectorAll("nav button").forEach((btn) => btn.addEventListener("click", () => {
      document.querySelectorAll("nav button").forEach((b) => b.classList.remove("active"));
      btn.classList.add("active");
      report = btn.dataset.report;
      load();
    }));
    $("refresh").addEventListener("click", load);
    $("export").addEventListener("click", () => { location.href = "/api/v1/attributes/export?" + query(); });
    $("clear").addEventListener("click", async () => { await fetch("/api/v1/cache/clear", { method: "POST" }); load(); });
    setInterval(progress, 3000);
    setInterval(() => { if (report === "limbo" || report === "monitor") load(); }, 60000);
    load();
  </script>
</body>
</html>
`
