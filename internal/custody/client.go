package custody

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/Anychima/Rent-Flow-sub009/internal/ethsig"
)

const signPath = "/v1/sign"

type signRequest struct {
	Message  string `json:"message"`
	Encoding string `json:"encoding"`
}

type signResponse struct {
	Signature string `json:"signature"`
}

// RemoteClient calls a custodial signing service over HTTP.
type RemoteClient struct {
	baseURL string
	timeout time.Duration
}

// NewRemoteClient builds a client for the service at baseURL.
func NewRemoteClient(baseURL string, timeout time.Duration) *RemoteClient {
	return &RemoteClient{baseURL: strings.TrimRight(baseURL, "/"), timeout: timeout}
}

// RemoteSign asks the service to sign challenge as a personal message with the
// key identified by credential.
func (c *RemoteClient) RemoteSign(ctx context.Context, credential string, challenge []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); timeout <= 0 || remaining < timeout {
			timeout = remaining
		}
	}

	agent := fiber.Post(c.baseURL + signPath)
	agent.Set(fiber.HeaderAuthorization, "Bearer "+credential)
	agent.JSON(signRequest{Message: "0x" + hex.EncodeToString(challenge), Encoding: "personal_sign"})
	if timeout > 0 {
		agent.Timeout(timeout)
	}

	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, errs[0])
	}
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", ErrAuthFailed, code)
	case code != http.StatusOK:
		return nil, fmt.Errorf("%w: status %d", ErrServiceUnavailable, code)
	}

	var resp signResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrServiceUnavailable, err)
	}
	sig, err := ethsig.DecodeSignature(resp.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed signature in response", ErrServiceUnavailable)
	}
	return sig, nil
}
