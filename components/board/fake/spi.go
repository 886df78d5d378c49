package fake

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"go.viam.com/edukit/components/board/genericlinux/buses"
)

// Transfer is a single Xfer seen by the fake bus.
type Transfer struct {
	Baud       uint
	ChipSelect string
	Mode       uint
	Tx         []byte
}

// SPI is a scripted bus: every Xfer is recorded and answered with the next queued response. A
// missing response reads as zero bytes.
type SPI struct {
	mu        sync.Mutex
	busy      bool
	transfers []Transfer
	responses [][]byte
	// XferErr, when non-nil, is returned from every Xfer.
	XferErr error
}

// QueueResponse appends rx bytes to be returned by the following Xfers, one byte per transfer
// when the transfers are one byte long.
func (s *SPI) QueueResponse(rx ...byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range rx {
		s.responses = append(s.responses, []byte{b})
	}
}

// Transfers returns every recorded transfer, oldest first.
func (s *SPI) Transfers() []Transfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Transfer(nil), s.transfers...)
}

// Sent returns the concatenation of all transmitted bytes.
func (s *SPI) Sent() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sent []byte
	for _, tr := range s.transfers {
		sent = append(sent, tr.Tx...)
	}
	return sent
}

// Reset forgets the recorded transfers and queued responses.
func (s *SPI) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transfers = nil
	s.responses = nil
}

// OpenHandle returns a handle, failing if one is already open.
func (s *SPI) OpenHandle() (buses.SPIHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return nil, errors.New("fake spi bus is already in use")
	}
	s.busy = true
	return &spiHandle{bus: s}, nil
}

// Close is a no-op.
func (s *SPI) Close(ctx context.Context) error {
	return nil
}

type spiHandle struct {
	bus    *SPI
	closed bool
}

func (h *spiHandle) Xfer(ctx context.Context, baud uint, chipSelect string, mode uint, tx []byte) ([]byte, error) {
	if h.closed {
		return nil, errors.New("can't use Xfer() on an already closed SPIHandle")
	}
	s := h.bus
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.XferErr != nil {
		return nil, s.XferErr
	}
	s.transfers = append(s.transfers, Transfer{
		Baud:       baud,
		ChipSelect: chipSelect,
		Mode:       mode,
		Tx:         append([]byte(nil), tx...),
	})

	rx := make([]byte, len(tx))
	for i := range rx {
		if len(s.responses) == 0 {
			break
		}
		next := s.responses[0]
		rx[i] = next[0]
		if len(next) > 1 {
			s.responses[0] = next[1:]
		} else {
			s.responses = s.responses[1:]
		}
	}
	return rx, nil
}

func (h *spiHandle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	h.bus.mu.Lock()
	h.bus.busy = false
	h.bus.mu.Unlock()
	return nil
}
