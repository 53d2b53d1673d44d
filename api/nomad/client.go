package nomad

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"

	nomadapi "github.com/hashicorp/nomad/api"
	"go.uber.org/zap"

	"skald/api/model"
)

type Client struct {
	api *nomadapi.Client
	log *zap.Logger
}

func NewClient(addr string, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	cfg := nomadapi.DefaultConfig()
	cfg.Address = addr

	client, err := nomadapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("nomad client: %w", err)
	}
	return &Client{api: client, log: log}, nil
}

// Healthy checks connectivity to Nomad.
func (c *Client) Healthy() error {
	_, err := c.api.Agent().NodeName()
	return classify(err)
}

var responseCodeRe = regexp.MustCompile(`Unexpected response code: (\d{3})`)

// classify maps Nomad API errors onto the model error set.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if m := responseCodeRe.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.Atoi(m[1])
		switch {
		case code == 404:
			return fmt.Errorf("%w: %v", model.ErrNotFound, err)
		case code == 403:
			return fmt.Errorf("%w: %v", model.ErrForbidden, err)
		case code == 429:
			return fmt.Errorf("%w: %v", model.ErrThrottled, err)
		case code >= 500:
			return fmt.Errorf("%w: %v", model.ErrUnavailable, err)
		}
		return err
	}
	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) {
		return fmt.Errorf("%w: %v", model.ErrUnavailable, err)
	}
	return err
}
