//go:build integration

package pwdriver_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formflow/browser/pwdriver"
	"formflow/matcher"
)

const surveyPage = `<!doctype html>
<html><body>
<div class="q"><h3>What is your favorite color?</h3>
  <div><button onclick="document.title='blue'">Blue</button><button>Red</button></div>
</div>
<div class="q"><h3>Do you own a car?</h3></div>
<div><button onclick="document.title='yes'">Yes</button></div>
</body></html>`

func TestAnswerQuestionLive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, surveyPage)
	}))
	defer srv.Close()

	logger, _ := test.NewNullLogger()
	session, err := pwdriver.Launch(pwdriver.LaunchOptions{Headless: true, DefaultTimeoutMS: 10000, Logger: logger})
	require.NoError(t, err)
	defer session.Close()
	require.NoError(t, session.Goto(srv.URL))

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	m, err := matcher.New(session.Page(), matcher.DefaultConfig(), logger)
	require.NoError(t, err)
	require.NoError(t, m.Preload(ctx, 0))
	assert.Equal(t, 2, m.Stats().PoolSize)

	outcome, err := m.AnswerQuestion(ctx, "whats your favorite color", "Blue", true)
	require.NoError(t, err)
	assert.Equal(t, matcher.OutcomeAnswered, outcome)

	title, err := session.Page().Raw().Title()
	require.NoError(t, err)
	assert.Equal(t, "blue", title)

	outcome, err = m.AnswerQuestion(ctx, "do you own a car", "Yes", true)
	require.NoError(t, err)
	assert.Equal(t, matcher.OutcomeAnswered, outcome)
}
