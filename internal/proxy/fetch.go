package proxy

import (
	"net/http"
	"strings"

	"github.com/elazarl/goproxy"
	"github.com/sirupsen/logrus"

	"github.com/iTrooz/offline-cache-agent/internal/agent"
	"github.com/iTrooz/offline-cache-agent/internal/metrics"
)

// handleRequest dispatches a proxied request to the controlling agent.
// Returning a nil response lets goproxy forward the request untouched.
func (s *Server) handleRequest(req *http.Request, _ *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	controller, ok := s.registration.Controller()
	if !ok {
		metrics.FetchesTotal.WithLabelValues("passthrough").Inc()
		return req, nil
	}

	eff := controller.Fetch(req.Context(), agent.FetchEvent{
		Request:     req,
		Destination: destinationOf(req),
	})
	s.waitUntil(req.Context(), eff)

	if eff.Passthrough {
		metrics.FetchesTotal.WithLabelValues("passthrough").Inc()
		return req, nil
	}

	if eff.Err != nil {
		metrics.FetchesTotal.WithLabelValues("error").Inc()
		logrus.Warnf("Failed to fetch %s: %v", agent.TargetURL(req), eff.Err)
		return req, goproxy.NewResponse(req, goproxy.ContentTypeText, http.StatusBadGateway, eff.Err.Error())
	}

	metrics.FetchesTotal.WithLabelValues(string(eff.Source)).Inc()

	resp := eff.Response.HTTP(req)
	resp.Header.Set("X-Cache", cacheStatus(eff.Source))

	logrus.Infof("%s %s -> %d (%s)", req.Method, agent.TargetURL(req), resp.StatusCode, eff.Source)
	return req, resp
}

// destinationOf derives the fetch destination from the request headers.
// Clients that do not send Sec-Fetch-Dest are treated as navigating when
// they ask for HTML.
func destinationOf(req *http.Request) agent.Destination {
	if dest := req.Header.Get("Sec-Fetch-Dest"); dest != "" {
		return agent.Destination(strings.ToLower(dest))
	}
	if strings.Contains(req.Header.Get("Accept"), "text/html") {
		return agent.DestinationDocument
	}
	return agent.DestinationEmpty
}

func cacheStatus(source agent.Source) string {
	switch source {
	case agent.SourceCache:
		return "HIT"
	case agent.SourceFallback:
		return "FALLBACK"
	default:
		return "MISS"
	}
}
