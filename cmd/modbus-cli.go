// modbus-cli is a small command-line client/server/bridge driver for the
// gomodbus stack, trimmed and re-themed from the upstream tool this repo
// grew out of. It keeps the original's "target + colon-separated command
// list" shape for client mode, and adds standalone server/bridge modes so
// the stack can be exercised end to end from one binary.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rinzlermodbus/gomodbus"
	"github.com/rinzlermodbus/gomodbus/bridge"
	"github.com/rinzlermodbus/gomodbus/client"
	"github.com/rinzlermodbus/gomodbus/mblog"
	"github.com/rinzlermodbus/gomodbus/server"
	"github.com/rinzlermodbus/gomodbus/transport"
	"github.com/rinzlermodbus/gomodbus/transport/rtu"
	"github.com/rinzlermodbus/gomodbus/transport/tcp"
	"go.bug.st/serial"
	"go.uber.org/zap"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "client":
		err = runClient(os.Args[2:])
	case "server":
		err = runServer(os.Args[2:])
	case "bridge":
		err = runBridge(os.Args[2:])
	case "-help", "--help", "help":
		usage()
		return
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Print(`modbus-cli <mode> [flags]

modes:
  client   issue read/write commands against a remote target
  server   expose an in-memory register map over rtu or tcp
  bridge   relay requests from a front transport to a back target

run "modbus-cli <mode> --help" for mode-specific flags
`)
}

func newLogger(debug bool) mblog.Logger {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	z, err := cfg.Build()
	if err != nil {
		return mblog.New("modbus-cli", debug)
	}
	return &zapLogger{z.Sugar()}
}

// zapLogger adapts a *zap.SugaredLogger to mblog.Logger, the only place in
// this repo a concrete logging library is imported - every package below
// cmd/ takes the mblog.Logger interface instead.
type zapLogger struct{ s *zap.SugaredLogger }

func (l *zapLogger) Debug(msg string)                         { l.s.Debug(msg) }
func (l *zapLogger) Debugf(format string, args ...interface{}) { l.s.Debugf(format, args...) }
func (l *zapLogger) Info(msg string)                          { l.s.Info(msg) }
func (l *zapLogger) Infof(format string, args ...interface{}) { l.s.Infof(format, args...) }
func (l *zapLogger) Warning(msg string)                       { l.s.Warn(msg) }
func (l *zapLogger) Warningf(format string, args ...interface{}) { l.s.Warnf(format, args...) }
func (l *zapLogger) Error(msg string)                         { l.s.Error(msg) }
func (l *zapLogger) Errorf(format string, args ...interface{}) { l.s.Errorf(format, args...) }

// targetSpec describes a parsed --target value, shared by all three modes:
// tcp://host:port for the TCP transport, or a bare device path (e.g.
// /dev/ttyUSB0) for RTU.
type targetSpec struct {
	isTCP   bool
	address string
}

func parseTarget(raw string) (targetSpec, error) {
	if raw == "" {
		return targetSpec{}, fmt.Errorf("no target given")
	}
	if strings.HasPrefix(raw, "tcp://") {
		return targetSpec{isTCP: true, address: strings.TrimPrefix(raw, "tcp://")}, nil
	}
	if strings.HasPrefix(raw, "tcp+tls://") {
		return targetSpec{}, fmt.Errorf("tls targets are not supported by this build")
	}
	return targetSpec{isTCP: false, address: raw}, nil
}

func openTransport(t targetSpec, role transport.Role, speed, dataBits int, parityFlag, stopBitsFlag string, timeout time.Duration, logger mblog.Logger) (transport.Transport, error) {
	if t.isTCP {
		if role == transport.Client {
			return tcp.NewClient(tcp.ClientConfig{Address: t.address, Timeout: timeout, Logger: logger}), nil
		}
		return tcp.NewServer(tcp.ServerConfig{Address: t.address, Timeout: timeout, Logger: logger, MaxClients: 32}), nil
	}

	parity, err := parseParity(parityFlag)
	if err != nil {
		return nil, err
	}
	stopBits, err := parseStopBits(stopBitsFlag)
	if err != nil {
		return nil, err
	}

	link, err := rtu.OpenPort(rtu.PortConfig{
		Device: t.address, Baud: uint(speed), DataBits: dataBits, Parity: parity, StopBits: stopBits,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", t.address, err)
	}
	return rtu.New(rtu.Config{Link: link, Baud: uint(speed), Logger: logger, Role: role}), nil
}

func parseParity(s string) (serial.Parity, error) {
	switch s {
	case "none":
		return serial.NoParity, nil
	case "even":
		return serial.EvenParity, nil
	case "odd":
		return serial.OddParity, nil
	}
	return 0, fmt.Errorf("unknown parity setting %q (should be one of none, odd or even)", s)
}

func parseStopBits(s string) (serial.StopBits, error) {
	switch s {
	case "1":
		return serial.OneStopBit, nil
	case "1.5":
		return serial.OnePointFiveStopBits, nil
	case "2":
		return serial.TwoStopBits, nil
	}
	return 0, fmt.Errorf("unknown stop-bits setting %q (should be one of 1, 1.5 or 2)", s)
}

// --- client mode ---

func runClient(args []string) error {
	fs := flag.NewFlagSet("client", flag.ExitOnError)
	target := fs.String("target", "", "target device (tcp://host:port or a serial device path) [required]")
	speed := fs.Int("speed", 19200, "serial bus speed in bps (rtu)")
	dataBits := fs.Int("data-bits", 8, "bits per character on the serial bus (rtu)")
	parity := fs.String("parity", "none", "parity bit <none|even|odd> (rtu)")
	stopBits := fs.String("stop-bits", "2", "stop bits <1|1.5|2> (rtu)")
	timeoutFlag := fs.String("timeout", "1s", "per-request timeout")
	unitID := fs.Uint("unit-id", 1, "unit/slave id to use")
	debug := fs.Bool("debug", false, "enable debug logging")
	fs.Parse(args)

	timeout, err := time.ParseDuration(*timeoutFlag)
	if err != nil {
		return fmt.Errorf("failed to parse timeout %q: %w", *timeoutFlag, err)
	}
	if *unitID > 0xff {
		return fmt.Errorf("unit id %d out of range", *unitID)
	}

	ts, err := parseTarget(*target)
	if err != nil {
		return err
	}
	logger := newLogger(*debug)

	tr, err := openTransport(ts, transport.Client, *speed, *dataBits, *parity, *stopBits, timeout, logger)
	if err != nil {
		return err
	}

	cl := client.New(tr, client.WithTimeout(timeout), client.WithUnitID(uint8(*unitID)), client.WithLogger(logger))
	if err := cl.Open(); err != nil {
		return fmt.Errorf("failed to open client: %w", err)
	}
	defer cl.Close()

	if fs.NArg() == 0 {
		fmt.Println("nothing to do.")
		return nil
	}
	for _, arg := range fs.Args() {
		if err := runClientCommand(cl, arg); err != nil {
			fmt.Fprintf(os.Stderr, "command %q failed: %v\n", arg, err)
		}
	}
	return nil
}

// runClientCommand parses and executes one colon-separated command, e.g.
// "rh:0x1000:5", "wc:3:true" or "sleep:250ms".
func runClientCommand(cl *client.Client, arg string) error {
	parts := strings.Split(arg, ":")
	switch parts[0] {
	case "rc", "readCoil", "readCoils":
		addr, count, err := parseAddrCount(parts)
		if err != nil {
			return err
		}
		vals, err := cl.ReadCoils(addr, count)
		if err != nil {
			return err
		}
		printBools(addr, vals)

	case "rdi", "readDiscreteInput", "readDiscreteInputs":
		addr, count, err := parseAddrCount(parts)
		if err != nil {
			return err
		}
		vals, err := cl.ReadDiscreteInputs(addr, count)
		if err != nil {
			return err
		}
		printBools(addr, vals)

	case "rh", "readHoldingRegister", "readHoldingRegisters":
		addr, count, err := parseAddrCount(parts)
		if err != nil {
			return err
		}
		vals, err := cl.ReadHoldingRegisters(addr, count)
		if err != nil {
			return err
		}
		printRegisters(addr, vals)

	case "ri", "readInputRegister", "readInputRegisters":
		addr, count, err := parseAddrCount(parts)
		if err != nil {
			return err
		}
		vals, err := cl.ReadInputRegisters(addr, count)
		if err != nil {
			return err
		}
		printRegisters(addr, vals)

	case "wc", "writeCoil":
		if len(parts) != 3 {
			return fmt.Errorf("writeCoil needs exactly 2 arguments")
		}
		addr, err := parseUint16(parts[1])
		if err != nil {
			return err
		}
		val, err := strconv.ParseBool(parts[2])
		if err != nil {
			return fmt.Errorf("failed to parse coil value %q: %w", parts[2], err)
		}
		return cl.WriteSingleCoil(addr, val)

	case "wr", "writeRegister":
		if len(parts) != 3 {
			return fmt.Errorf("writeRegister needs exactly 2 arguments")
		}
		addr, err := parseUint16(parts[1])
		if err != nil {
			return err
		}
		val, err := parseUint16(parts[2])
		if err != nil {
			return err
		}
		return cl.WriteSingleRegister(addr, val)

	case "sleep":
		if len(parts) != 2 {
			return fmt.Errorf("sleep needs exactly 1 argument")
		}
		d, err := time.ParseDuration(parts[1])
		if err != nil {
			return err
		}
		time.Sleep(d)

	default:
		return fmt.Errorf("unsupported command %q", parts[0])
	}
	return nil
}

func parseAddrCount(parts []string) (addr, count uint16, err error) {
	if len(parts) != 3 {
		return 0, 0, fmt.Errorf("need exactly 2 arguments (address, count)")
	}
	addr, err = parseUint16(parts[1])
	if err != nil {
		return 0, 0, err
	}
	count, err = parseUint16(parts[2])
	if err != nil {
		return 0, 0, err
	}
	return addr, count, nil
}

func parseUint16(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %q as a 16-bit value: %w", s, err)
	}
	return uint16(v), nil
}

func printBools(addr uint16, vals []bool) {
	for i, v := range vals {
		fmt.Printf("0x%04x\t%-5v : %v\n", addr+uint16(i), addr+uint16(i), v)
	}
}

func printRegisters(addr uint16, vals []uint16) {
	for i, v := range vals {
		fmt.Printf("0x%04x\t%-5v : 0x%04x\t%v\n", addr+uint16(i), addr+uint16(i), v, v)
	}
}

// --- server mode ---

func runServer(args []string) error {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	target := fs.String("target", "", "listen target (tcp://host:port or a serial device path) [required]")
	speed := fs.Int("speed", 19200, "serial bus speed in bps (rtu)")
	dataBits := fs.Int("data-bits", 8, "bits per character on the serial bus (rtu)")
	parity := fs.String("parity", "none", "parity bit <none|even|odd> (rtu)")
	stopBits := fs.String("stop-bits", "2", "stop bits <1|1.5|2> (rtu)")
	holdingCount := fs.Uint("holding-registers", 100, "number of holding registers to expose starting at address 0")
	coilCount := fs.Uint("coils", 100, "number of coils to expose starting at address 0")
	serverID := fs.Uint("server-id", 1, "unit id this server answers to (besides broadcast)")
	rejectUndefined := fs.Bool("reject-undefined", true, "fail reads that touch an address with no registered word instead of zero-filling it")
	debug := fs.Bool("debug", false, "enable debug logging")
	fs.Parse(args)

	ts, err := parseTarget(*target)
	if err != nil {
		return err
	}
	logger := newLogger(*debug)

	tr, err := openTransport(ts, transport.Server, *speed, *dataBits, *parity, *stopBits, 0, logger)
	if err != nil {
		return err
	}

	store := server.NewWordStore(server.WithRejectUndefined(*rejectUndefined))
	if *holdingCount > 0 {
		if err := store.Add(server.NewStaticRegisters(modbus.HoldingRegister, 0, make([]uint16, *holdingCount))); err != nil {
			return err
		}
	}
	if *coilCount > 0 {
		if err := store.Add(server.NewStaticCoils(modbus.Coil, 0, make([]bool, *coilCount))); err != nil {
			return err
		}
	}

	srv := server.New(store, server.WithLogger(logger), server.WithServerID(uint8(*serverID)))
	if err := srv.Serve(tr); err != nil {
		return fmt.Errorf("failed to start serving: %w", err)
	}

	fmt.Printf("serving %d holding registers and %d coils on %s as unit %d, ctrl-c to stop\n", *holdingCount, *coilCount, *target, *serverID)
	select {}
}

// --- bridge mode ---

func runBridge(args []string) error {
	fs := flag.NewFlagSet("bridge", flag.ExitOnError)
	front := fs.String("front", "", "front-side target requests arrive on [required]")
	back := fs.String("back", "", "back-side target requests are forwarded to [required]")
	speed := fs.Int("speed", 19200, "serial bus speed in bps (rtu)")
	dataBits := fs.Int("data-bits", 8, "bits per character on the serial bus (rtu)")
	parity := fs.String("parity", "none", "parity bit <none|even|odd> (rtu)")
	stopBits := fs.String("stop-bits", "2", "stop bits <1|1.5|2> (rtu)")
	timeoutFlag := fs.String("timeout", "1s", "back-side request timeout")
	queueDepth := fs.Int("queue-depth", 16, "number of front-side requests the bridge will queue")
	debug := fs.Bool("debug", false, "enable debug logging")
	fs.Parse(args)

	timeout, err := time.ParseDuration(*timeoutFlag)
	if err != nil {
		return fmt.Errorf("failed to parse timeout %q: %w", *timeoutFlag, err)
	}

	frontTarget, err := parseTarget(*front)
	if err != nil {
		return fmt.Errorf("front target: %w", err)
	}
	backTarget, err := parseTarget(*back)
	if err != nil {
		return fmt.Errorf("back target: %w", err)
	}
	logger := newLogger(*debug)

	frontTr, err := openTransport(frontTarget, transport.Server, *speed, *dataBits, *parity, *stopBits, 0, logger)
	if err != nil {
		return fmt.Errorf("front transport: %w", err)
	}
	backTr, err := openTransport(backTarget, transport.Client, *speed, *dataBits, *parity, *stopBits, timeout, logger)
	if err != nil {
		return fmt.Errorf("back transport: %w", err)
	}

	backClient := client.New(backTr, client.WithTimeout(timeout), client.WithLogger(logger))
	b := bridge.New(frontTr, backClient, bridge.WithQueueDepth(*queueDepth), bridge.WithLogger(logger))
	if err := b.Start(); err != nil {
		return fmt.Errorf("failed to start bridge: %w", err)
	}

	fmt.Printf("bridging %s -> %s, ctrl-c to stop\n", *front, *back)
	select {}
}
