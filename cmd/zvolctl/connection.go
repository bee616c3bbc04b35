package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/ndenev/zvolcsi/internal/agentclient"
)

// connectionParams holds the flag pointers shared by every subcommand,
// threaded through to each cobra command constructor instead of a
// package-global client.
type connectionParams struct {
	address  *string
	certFile *string
	keyFile  *string
	caFile   *string
}

var errNoAgentAddress = errors.New("--agent-address (or ZVOLCTL_AGENT_ADDRESS) must be set")

// connect dials the Agent using the flags captured in p.
func connect(ctx context.Context, p *connectionParams) (*agentclient.Client, error) {
	if *p.address == "" {
		return nil, errNoAgentAddress
	}

	cfg := agentclient.Config{
		Address: *p.address,
		TLS: agentclient.TLSConfig{
			CertFile: *p.certFile,
			KeyFile:  *p.keyFile,
			CAFile:   *p.caFile,
		},
	}

	client, err := agentclient.Dial(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to agent %s: %w", *p.address, err)
	}
	return client, nil
}
