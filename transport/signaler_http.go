// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/simplep2p/docstore/lib/address"
	"github.com/simplep2p/docstore/lib/netutil"
)

// signalTimeout bounds one HTTP signaling round trip. The answering side
// gathers ICE candidates before replying, so this must exceed
// iceGatherTimeout.
const signalTimeout = iceGatherTimeout + 10*time.Second

// Compile-time interface check.
var _ Signaler = (*HTTPSignaler)(nil)

// HTTPSignaler POSTs offers as JSON to the target's signaling URL
// (http://host:port/signal, on the TCP port numbered like the UDP port).
type HTTPSignaler struct {
	// Client is the HTTP client used for exchanges. Nil uses a client
	// with signalTimeout.
	Client *http.Client
}

func (s *HTTPSignaler) Exchange(ctx context.Context, target address.Address, offer SignalMessage) (SignalMessage, error) {
	body, err := json.Marshal(offer)
	if err != nil {
		return SignalMessage{}, fmt.Errorf("encoding offer: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, target.SignalingURL(), bytes.NewReader(body))
	if err != nil {
		return SignalMessage{}, fmt.Errorf("building signaling request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: signalTimeout}
	}
	response, err := client.Do(request)
	if err != nil {
		return SignalMessage{}, fmt.Errorf("signaling %s: %w", target.SignalingURL(), err)
	}
	defer response.Body.Close()

	switch response.StatusCode {
	case http.StatusOK:
	case http.StatusConflict:
		return SignalMessage{}, ErrOfferConflict
	default:
		return SignalMessage{}, fmt.Errorf("signaling %s: %s: %s",
			target.SignalingURL(), response.Status, netutil.ErrorBody(response.Body))
	}

	var answer SignalMessage
	if err := netutil.DecodeResponse(response.Body, &answer); err != nil {
		return SignalMessage{}, fmt.Errorf("decoding answer from %s: %w", target.SignalingURL(), err)
	}
	return answer, nil
}

// SignalHandler serves the answering side of HTTP signaling: an offer is
// POSTed as JSON and the answer is returned as JSON. Cross-origin
// requests are allowed so a page served from another origin can dial.
func SignalHandler(acceptor OfferAcceptor, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Access-Control-Allow-Origin", "*")
		writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		switch request.Method {
		case http.MethodOptions:
			writer.WriteHeader(http.StatusNoContent)
			return
		case http.MethodPost:
		default:
			writer.Header().Set("Allow", "POST, OPTIONS")
			netutil.WriteError(writer, http.StatusMethodNotAllowed, "POST an offer")
			return
		}

		var offer SignalMessage
		if err := netutil.DecodeResponse(request.Body, &offer); err != nil {
			netutil.WriteError(writer, http.StatusBadRequest, "malformed offer: "+err.Error())
			return
		}

		answer, err := acceptor.AcceptOffer(request.Context(), offer)
		switch {
		case errors.Is(err, ErrOfferConflict):
			netutil.WriteError(writer, http.StatusConflict, err.Error())
			return
		case errors.Is(err, ErrClosed):
			netutil.WriteError(writer, http.StatusServiceUnavailable, err.Error())
			return
		case err != nil:
			logger.Warn("rejecting signaling offer",
				"peer", offer.Peer,
				"remote", request.RemoteAddr,
				"error", err,
			)
			netutil.WriteError(writer, http.StatusBadRequest, err.Error())
			return
		}
		netutil.WriteJSON(writer, http.StatusOK, answer)
	})
}
