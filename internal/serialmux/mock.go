package serialmux

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/vitals.report/internal/sensorsim"
)

// SimulatedBridge is a SerialPorter that behaves like the sensor bridge: it
// streams synthetic ECG and PPG lines in real time and answers `Z <hz>`
// impedance requests from a tissue model.
type SimulatedBridge struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu       sync.Mutex
	tissue   sensorsim.Tissue
	commands []string
	closed   bool
	done     chan struct{}
}

// NewSimulatedBridge starts streaming src, writing one batch of samples per
// tick.
func NewSimulatedBridge(src *sensorsim.Source, tissue sensorsim.Tissue, tick time.Duration) *SimulatedBridge {
	r, w := io.Pipe()
	b := &SimulatedBridge{r: r, w: w, tissue: tissue, done: make(chan struct{})}

	perTick := max(int(tick/src.Interval), 1)
	go func() {
		ticker := time.NewTicker(tick)
		defer ticker.Stop()
		for {
			select {
			case <-b.done:
				return
			case <-ticker.C:
				if _, err := w.Write(sensorsim.Payload(src.Lines(perTick))); err != nil {
					return
				}
			}
		}
	}()
	return b
}

// NewSimulatedSerialMux wraps a SimulatedBridge with a 72 bpm heart and a
// 200 ms pulse transit time.
func NewSimulatedSerialMux() *SerialMux[*SimulatedBridge] {
	src := sensorsim.NewSource(time.Now(), 832*time.Millisecond, 200*time.Millisecond)
	return NewSerialMux(NewSimulatedBridge(src, sensorsim.DefaultTissue(), 40*time.Millisecond))
}

func (b *SimulatedBridge) Read(p []byte) (int, error) { return b.r.Read(p) }

// Write records commands and queues replies to impedance requests.
func (b *SimulatedBridge) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, errors.New("serial port closed")
	}

	scan := bufio.NewScanner(bytes.NewReader(p))
	for scan.Scan() {
		cmd := strings.TrimSpace(scan.Text())
		if cmd == "" {
			continue
		}
		b.commands = append(b.commands, cmd)
		if hz, ok := strings.CutPrefix(cmd, "Z "); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(hz), 64)
			if err != nil {
				continue
			}
			line := b.tissue.ImpedanceLine(f) + "\n"
			go b.w.Write([]byte(line))
		}
	}
	return len(p), nil
}

// Commands returns every command written so far.
func (b *SimulatedBridge) Commands() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.commands...)
}

// Close stops streaming and unblocks readers.
func (b *SimulatedBridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	close(b.done)
	b.w.Close()
	return b.r.Close()
}

// TestableSerialPort is an in-memory SerialPorter for tests. Reads block
// until data is queued or the port is closed, so Monitor keeps running
// between AddReadData calls.
type TestableSerialPort struct {
	mu       sync.Mutex
	readCond *sync.Cond

	ReadBuffer  *bytes.Buffer
	WriteBuffer *bytes.Buffer

	// WriteError is returned by the next Write call if set
	WriteError error
	// CloseError is returned by Close if set
	CloseError error
	Closed     bool
	WriteCalls int

	// Respond, if set, is called for each newline-terminated command and
	// its non-empty result is queued as read data.
	Respond func(command string) string
}

// NewTestableSerialPort creates a new TestableSerialPort for testing.
func NewTestableSerialPort() *TestableSerialPort {
	tsp := &TestableSerialPort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
	}
	tsp.readCond = sync.NewCond(&tsp.mu)
	return tsp
}

func (t *TestableSerialPort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for !t.Closed && t.ReadBuffer.Len() == 0 {
		t.readCond.Wait()
	}
	if t.Closed {
		return 0, io.EOF
	}
	return t.ReadBuffer.Read(p)
}

func (t *TestableSerialPort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.WriteCalls++
	if t.Closed {
		return 0, errors.New("serial port closed")
	}
	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}

	n, err := t.WriteBuffer.Write(p)
	if t.Respond != nil {
		for _, cmd := range strings.Split(strings.TrimSpace(string(p)), "\n") {
			if reply := t.Respond(strings.TrimSpace(cmd)); reply != "" {
				t.ReadBuffer.WriteString(reply + "\n")
			}
		}
		t.readCond.Broadcast()
	}
	return n, err
}

// Close marks the port as closed and wakes blocked readers.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Closed = true
	t.readCond.Broadcast()
	return t.CloseError
}

// AddReadData queues data for subsequent Read calls.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Write(data)
	t.readCond.Broadcast()
}

// GetWrittenData returns all data written to the port.
func (t *TestableSerialPort) GetWrittenData() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.WriteBuffer.String()
}
