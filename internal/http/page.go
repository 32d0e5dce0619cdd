package httpapi

import (
	"html/template"
	"strconv"

	"github.com/roniherschmann/go-views/internal/ledger"
)

// pageData is everything the counter page shows. All decisions are made here;
// the template only prints fields.
type pageData struct {
	TotalViews int64
	Message    string
	Failed     bool
}

func newPageData(v ledger.Visit, err error) pageData {
	d := pageData{TotalViews: v.TotalViews}
	switch {
	case err != nil:
		d.Failed = true
		d.Message = "Your visit could not be recorded right now."
	case v.IsNew:
		d.Message = "You are the " + ordinal(v.TotalViews) + " visitor!"
	default:
		d.Message = "Welcome back! You have already been counted."
	}
	return d
}

// ordinal renders n with its English suffix: 1st, 2nd, 3rd, 11th, 22nd.
func ordinal(n int64) string {
	s := strconv.FormatInt(n, 10)
	abs := n
	if abs < 0 {
		abs = -abs
	}
	if m := abs % 100; m >= 11 && m <= 13 {
		return s + "th"
	}
	switch abs % 10 {
	case 1:
		return s + "st"
	case 2:
		return s + "nd"
	case 3:
		return s + "rd"
	}
	return s + "th"
}

var pageTmpl = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>View Counter</title>
    <style>
        body { font-family: Arial, sans-serif; text-align: center; padding: 50px; background-color: #f0f0f0; }
        .counter { font-size: 48px; color: #333; margin: 20px; }
        .position { font-size: 24px; color: #666; }
        .position.failed { color: #a33; }
    </style>
</head>
<body>
    <h1>Welcome to the View Counter!</h1>
    <div class="counter">Total Views: <span id="total">{{.TotalViews}}</span></div>
    <div class="position{{if .Failed}} failed{{end}}">{{.Message}}</div>
    <p>Refresh all you like, a returning visitor is only counted once per window.</p>
    <script>
    (function () {
        var proto = location.protocol === "https:" ? "wss://" : "ws://";
        var ws = new WebSocket(proto + location.host + "/ws");
        ws.onmessage = function (e) {
            var u = JSON.parse(e.data);
            if (u.type === "views_update") {
                document.getElementById("total").textContent = u.total_views;
            }
        };
    })();
    </script>
</body>
</html>
`))
