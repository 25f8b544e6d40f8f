package e2e

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"strings"
	"testing"
	"time"

	"chat-sync/auth"
	"chat-sync/client"

	"github.com/gookit/color"
	"github.com/stretchr/testify/suite"
)

type BaseHTTPSuite struct {
	suite.Suite
	Config   Config
	identity *auth.JWTIdentity
}

// SetupSuite loads the environment configuration before running tests
func (s *BaseHTTPSuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	if s.Config.ServerURL == "" {
		s.T().Skip("CHAT_SERVER_URL is not set")
	}
	s.identity = auth.NewJWTIdentity(s.Config.JWTSecret, time.Hour)
}

type loggingTransport struct {
	t         *testing.T
	debugJSON bool
}

func (l loggingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	start := time.Now()
	var dumpedRequest []byte
	if l.debugJSON {
		dumpedRequest, _ = httputil.DumpRequestOut(r, true)
	}
	response, err := http.DefaultTransport.RoundTrip(r)

	logBuilder := strings.Builder{}
	status := "ERR"
	if response != nil {
		status = response.Status
	}
	fmt.Fprintf(&logBuilder, "HTTP %s %s [%s] in %v", r.Method, r.URL.Path, status, time.Since(start))
	if l.debugJSON {
		fmt.Fprintln(&logBuilder, "\nREQUEST:")
		fmt.Fprintln(&logBuilder, string(dumpedRequest))
		if err != nil {
			fmt.Fprintln(&logBuilder, "ERROR:", err)
		} else {
			dumpedResponse, _ := httputil.DumpResponse(response, true)
			fmt.Fprintln(&logBuilder, "RESPONSE:")
			fmt.Fprintln(&logBuilder, string(dumpedResponse))
		}
	}
	l.t.Log(logBuilder.String())
	return response, err
}

// WithClient provides a client acting as userID within a contextual test step
func (s *BaseHTTPSuite) WithClient(name, userID string, moderator bool, fn func(ctx context.Context, c *client.HTTPClient)) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	s.T().Log(header)

	roles := []string{auth.RoleUser}
	if moderator {
		roles = append(roles, auth.RoleModerator)
	}
	token, err := s.identity.GenerateToken(userID, "", roles)
	s.Require().NoError(err)

	httpClient := &http.Client{Transport: loggingTransport{t: s.T(), debugJSON: s.Config.DebugJSON}}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fn(ctx, client.NewHTTPClient(s.Config.ServerURL, token, httpClient))
}
