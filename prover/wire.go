// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package prover

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/offchainlabs/blockproofs/primitives"
)

const (
	successByte = 0x0
	failureByte = 0x1
	readyByte   = 0x4

	maxFrameSize = 1 << 30
)

// wire frames the loopback protocol between the host side and a guest:
//
//	host:  mode(1) | len(8) input | ready(1)
//	guest: success(1) | commitment(96) | cycles(8) | len(8) proof
//	       failure(1) | len(8) message
type wire struct {
	rw io.ReadWriter
}

func (w wire) writeExact(data []byte) error {
	_, err := w.rw.Write(data)
	return err
}

func (w wire) writeUint8(data uint8) error {
	return w.writeExact([]byte{data})
}

func (w wire) writeUint64(data uint64) error {
	return w.writeExact(binary.BigEndian.AppendUint64(nil, data))
}

func (w wire) writeBytes(data []byte) error {
	if err := w.writeUint64(uint64(len(data))); err != nil {
		return err
	}
	return w.writeExact(data)
}

func (w wire) read(count uint64) ([]byte, error) {
	slice := make([]byte, count)
	if _, err := io.ReadFull(w.rw, slice); err != nil {
		return nil, err
	}
	return slice, nil
}

func (w wire) readUint8() (uint8, error) {
	b, err := w.read(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (w wire) readUint64() (uint64, error) {
	slice, err := w.read(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(slice), nil
}

func (w wire) readBytes() ([]byte, error) {
	length, err := w.readUint64()
	if err != nil {
		return nil, err
	}
	if length > maxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit of %d", length, maxFrameSize)
	}
	return w.read(length)
}

func (w wire) writeRequest(mode Mode, input []byte) error {
	if err := w.writeUint8(uint8(mode)); err != nil {
		return err
	}
	if err := w.writeBytes(input); err != nil {
		return err
	}
	return w.writeUint8(readyByte)
}

func (w wire) readRequest() (Mode, []byte, error) {
	mode, err := w.readUint8()
	if err != nil {
		return 0, nil, err
	}
	if Mode(mode) != ModeExecute && Mode(mode) != ModeProve {
		return 0, nil, fmt.Errorf("unknown mode byte %d", mode)
	}
	input, err := w.readBytes()
	if err != nil {
		return 0, nil, err
	}
	ready, err := w.readUint8()
	if err != nil {
		return 0, nil, err
	}
	if ready != readyByte {
		return 0, nil, fmt.Errorf("expected ready byte, got %d", ready)
	}
	return Mode(mode), input, nil
}

func (w wire) writeProof(proof *Proof) error {
	if err := w.writeUint8(successByte); err != nil {
		return err
	}
	if err := w.writeExact(proof.Commitment.Encode()); err != nil {
		return err
	}
	if err := w.writeUint64(proof.Cycles); err != nil {
		return err
	}
	return w.writeBytes(proof.Data)
}

func (w wire) writeFailure(message string) error {
	if err := w.writeUint8(failureByte); err != nil {
		return err
	}
	return w.writeBytes([]byte(message))
}

// readResult returns the guest's proof, or its failure message as error.
func (w wire) readResult() (*Proof, error) {
	kind, err := w.readUint8()
	if err != nil {
		return nil, err
	}
	switch kind {
	case failureByte:
		message, err := w.readBytes()
		if err != nil {
			return nil, err
		}
		return nil, &GuestError{Message: string(message)}
	case successByte:
		enc, err := w.read(primitives.CommitmentSize)
		if err != nil {
			return nil, err
		}
		commitment, err := primitives.DecodeCommitment(enc)
		if err != nil {
			return nil, err
		}
		cycles, err := w.readUint64()
		if err != nil {
			return nil, err
		}
		data, err := w.readBytes()
		if err != nil {
			return nil, err
		}
		return &Proof{Commitment: *commitment, Cycles: cycles, Data: data}, nil
	default:
		return nil, fmt.Errorf("inter-process communication failure: unexpected frame %d", kind)
	}
}

// GuestError is a failure reported by the guest program itself.
type GuestError struct {
	Message string
}

func (e *GuestError) Error() string {
	return "guest failed: " + e.Message
}
