// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package prover

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/ethereum/go-ethereum/log"

	"github.com/offchainlabs/blockproofs/client"
	"github.com/offchainlabs/blockproofs/engine"
	"github.com/offchainlabs/blockproofs/primitives"
)

// GuestHandler serves one request of a guest.
type GuestHandler func(ctx context.Context, mode Mode, input *primitives.ProgramInput) (*Proof, error)

// ReplayGuest executes with the client. It cannot prove.
func ReplayGuest(eng engine.Engine) GuestHandler {
	return func(ctx context.Context, mode Mode, input *primitives.ProgramInput) (*Proof, error) {
		if mode == ModeProve {
			return nil, ErrProvingUnsupported
		}
		commitment, err := client.Execute(input, eng)
		if err != nil {
			return nil, err
		}
		return &Proof{Commitment: *commitment}, nil
	}
}

// ServeGuest is the guest side of ExternalBackend. It reads one address per
// line from announcements, connects back and answers a single request per
// connection. An empty line or the end of announcements stops it.
func ServeGuest(ctx context.Context, announcements io.Reader, handler GuestHandler) error {
	scanner := bufio.NewScanner(announcements)
	for scanner.Scan() {
		address := strings.TrimSpace(scanner.Text())
		if address == "" {
			return nil
		}
		if err := serveRequest(ctx, address, handler); err != nil {
			log.Error("failed to serve request", "address", address, "err", err)
		}
	}
	return scanner.Err()
}

func serveRequest(ctx context.Context, address string, handler GuestHandler) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return err
	}
	defer conn.Close()
	w := wire{rw: conn}
	mode, enc, err := w.readRequest()
	if err != nil {
		return err
	}
	input, err := primitives.DecodeProgramInput(enc)
	if err != nil {
		return w.writeFailure(fmt.Sprintf("decoding program input: %v", err))
	}
	proof, err := handler(ctx, mode, input)
	if err != nil {
		return w.writeFailure(err.Error())
	}
	return w.writeProof(proof)
}
