package genericlinux

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"go.viam.com/edukit/components/board/genericlinux/buses"
)

var (
	hostInitOnce sync.Once
	hostInitErr  error

	openSPIPort = spireg.Open
)

// SPIBus is a spidev bus opened through periph.io. The bus is locked while a handle is open. The
// port stays open across handles until Close, so per-tick transfers do not reopen the device node.
type SPIBus struct {
	mu  sync.Mutex
	bus string

	// Guarded by mu, which is held for the lifetime of a handle.
	port     spi.PortCloser
	conn     spi.Conn
	portName string
	baud     uint
	mode     uint
	rx       []byte
}

// NewSPIBus returns the spidev bus with the given bus number, e.g. "0" for /dev/spidev0.*.
func NewSPIBus(busSelect string) (*SPIBus, error) {
	hostInitOnce.Do(func() {
		_, hostInitErr = host.Init()
	})
	if hostInitErr != nil {
		return nil, errors.Wrap(hostInitErr, "cannot initialize periph host drivers")
	}
	return &SPIBus{bus: busSelect}, nil
}

type spiHandle struct {
	bus      *SPIBus
	isClosed bool
}

// OpenHandle locks the bus.
func (sb *SPIBus) OpenHandle() (buses.SPIHandle, error) {
	sb.mu.Lock()
	return &spiHandle{bus: sb}, nil
}

// Close releases the spidev port. It waits for an open handle to be closed first.
func (sb *SPIBus) Close(ctx context.Context) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.closePortLocked()
}

func (sb *SPIBus) closePortLocked() error {
	if sb.port == nil {
		return nil
	}
	err := sb.port.Close()
	sb.port, sb.conn = nil, nil
	return err
}

// connectLocked opens the port for chipSelect, reusing the open one when nothing changed.
func (sb *SPIBus) connectLocked(baud uint, chipSelect string, mode uint) error {
	portName := fmt.Sprintf("SPI%s.%s", sb.bus, chipSelect)
	if sb.conn != nil && sb.portName == portName && sb.baud == baud && sb.mode == mode {
		return nil
	}
	if err := sb.closePortLocked(); err != nil {
		return err
	}

	port, err := openSPIPort(portName)
	if err != nil {
		return err
	}
	conn, err := port.Connect(physic.Hertz*physic.Frequency(baud), spi.Mode(mode), 8)
	if err != nil {
		return multierr.Combine(err, port.Close())
	}
	sb.port, sb.conn = port, conn
	sb.portName, sb.baud, sb.mode = portName, baud, mode
	return nil
}

// Xfer performs one chip-select framed transfer. The returned slice is only valid until the next
// Xfer on the bus.
func (sh *spiHandle) Xfer(ctx context.Context, baud uint, chipSelect string, mode uint, tx []byte) ([]byte, error) {
	if sh.isClosed {
		return nil, errors.New("can't use Xfer() on an already closed SPIHandle")
	}
	sb := sh.bus
	if err := sb.connectLocked(baud, chipSelect, mode); err != nil {
		return nil, err
	}
	if cap(sb.rx) < len(tx) {
		sb.rx = make([]byte, len(tx))
	}
	rx := sb.rx[:len(tx)]
	return rx, sb.conn.Tx(tx, rx)
}

// Close unlocks the bus. The port stays open for the next handle.
func (sh *spiHandle) Close() error {
	if sh.isClosed {
		return nil
	}
	sh.isClosed = true
	sh.bus.mu.Unlock()
	return nil
}
