package meetingbot

import (
	"html/template"
	"net/http"
	"strings"
)

var configPage = template.Must(template.New("config").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Name}} configuration</title>
<script src="https://res.cdn.office.net/teams-js/2.0.0/js/MicrosoftTeams.min.js"></script>
</head>
<body>
<h1>{{.Name}}</h1>
<p>{{.Name}} records and transcribes meetings in this chat and posts the transcript when the meeting ends.</p>
<script>
microsoftTeams.app.initialize().then(function () {
  microsoftTeams.pages.config.registerOnSaveHandler(function (saveEvent) {
    saveEvent.notifySuccess();
  });
  microsoftTeams.pages.config.setValidityState(true);
});
</script>
</body>
</html>
`))

func configPageResponse(botName string) Response {
	var sb strings.Builder
	if err := configPage.Execute(&sb, struct{ Name string }{botName}); err != nil {
		return statusResponse(http.StatusInternalServerError, "error")
	}
	return Response{
		StatusCode: http.StatusOK,
		Headers:    map[string]string{"content-type": "text/html; charset=utf-8"},
		Body:       sb.String(),
	}
}
