package oven

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/robotalks/airfryer/pkg/actuator"
	"github.com/robotalks/airfryer/pkg/framework"
	"github.com/robotalks/airfryer/pkg/l0/comm"
	"github.com/robotalks/airfryer/pkg/metrics"
	"github.com/robotalks/airfryer/pkg/pid"
	"github.com/robotalks/airfryer/pkg/samplelog"
)

// tracer collects the side effects of all fakes in order.
type tracer struct {
	events []string
}

func (t *tracer) add(format string, args ...interface{}) {
	t.events = append(t.events, fmt.Sprintf(format, args...))
}

// testNode simulates the sensor/actuator node behind a comm.Port.
type testNode struct {
	t      *testing.T
	sends  int
	trace  *tracer
	temps  map[comm.DataType]float32
	frames []*comm.Frame

	corrupt  map[comm.DataType]int
	silent   bool
	sendErr  error
	closeErr error
	pending  []byte
	closed   int
}

func newTestNode(t *testing.T, trace *tracer, internal, reference float32) *testNode {
	return &testNode{
		t:     t,
		trace: trace,
		temps: map[comm.DataType]float32{
			comm.TypeReqInternalTemp:  internal,
			comm.TypeReqReferenceTemp: reference,
		},
		corrupt: make(map[comm.DataType]int),
	}
}

func (n *testNode) Send(b []byte) error {
	n.sends++
	if n.sendErr != nil {
		return &comm.TransportError{Op: "send", Err: n.sendErr}
	}
	f, err := comm.Decode(b)
	require.NoError(n.t, err)
	n.frames = append(n.frames, f)
	n.trace.add("frame %s %v", f.Type, f.Payload[comm.KeySize:])
	if v, ok := n.temps[f.Type]; ok && !n.silent {
		reply, err := comm.Encode(comm.DefaultAddress, comm.FuncSend, f.Type, comm.FloatPayload(v))
		require.NoError(n.t, err)
		if n.corrupt[f.Type] > 0 {
			n.corrupt[f.Type]--
			reply[len(reply)-1] ^= 0xff
		}
		n.pending = reply
	}
	return nil
}

func (n *testNode) Receive(ctx context.Context, maxLength int, timeout time.Duration) ([]byte, error) {
	out := n.pending
	n.pending = nil
	return out, nil
}

func (n *testNode) Close() error {
	n.closed++
	n.trace.add("port closed")
	return n.closeErr
}

func (n *testNode) commands(dt comm.DataType) (vals []int32) {
	for _, f := range n.frames {
		if f.Type == dt {
			_, body, _ := f.Key()
			v, err := (&comm.Frame{Type: comm.TypeInt, Payload: body}).Int32()
			require.NoError(n.t, err)
			vals = append(vals, v)
		}
	}
	return
}

type testActuator struct {
	trace  *tracer
	heater int
	fan    int
}

func (a *testActuator) SetHeaterDuty(percent int) {
	a.heater = percent
	a.trace.add("heater %d", percent)
}

func (a *testActuator) SetFanDuty(percent int) {
	a.fan = percent
	a.trace.add("fan %d", percent)
	if a.heater != 0 && a.fan != 0 {
		panic("heater and fan both on")
	}
}

type testLog struct {
	trace  *tracer
	lines  []string
	closed int
}

func (l *testLog) Append(s samplelog.Sample) error {
	l.lines = append(l.lines, s.Format())
	return nil
}

func (l *testLog) Close() error {
	l.closed++
	l.trace.add("log closed")
	return nil
}

type testPublisher struct {
	samples []samplelog.Sample
}

func (p *testPublisher) PublishSample(s samplelog.Sample) {
	p.samples = append(p.samples, s)
}

type fixture struct {
	trace *tracer
	node  *testNode
	act   *testActuator
	log   *testLog
	pub   *testPublisher
	loop  *ControlLoop
}

func newFixture(t *testing.T, internal, reference float32) *fixture {
	f := &fixture{trace: &tracer{}, pub: &testPublisher{}}
	f.node = newTestNode(t, f.trace, internal, reference)
	f.act = &testActuator{trace: f.trace}
	f.log = &testLog{trace: f.trace}
	client := comm.NewClient(f.node)
	client.WriteRetries = 0
	f.loop = &ControlLoop{
		Device:            client,
		Controller:        pid.DefaultConfig().New(),
		Actuator:          f.act,
		Log:               f.log,
		Publisher:         f.pub,
		FanLimit:          DefaultFanLimit,
		MaxProtocolErrors: DefaultMaxProtocolErrors,
	}
	return f
}

func (f *fixture) shutdown() *ShutdownCoordinator {
	return &ShutdownCoordinator{
		Actuator: f.act,
		Status:   f.loop.Device,
		Log:      f.log,
		Port:     f.node,
	}
}

var cycleTime = time.Date(2024, time.June, 7, 18, 30, 5, 0, time.UTC)

func TestDispatch(t *testing.T) {
	testCases := []struct {
		signal   int
		fanLimit int
		expect   actuator.Command
	}{
		{-100, 40, actuator.Command{FanDuty: 40}},
		{-41, 40, actuator.Command{FanDuty: 40}},
		{-40, 40, actuator.Command{FanDuty: 40}},
		{-10, 40, actuator.Command{FanDuty: 10}},
		{-1, 40, actuator.Command{FanDuty: 1}},
		{0, 40, actuator.Off},
		{1, 40, actuator.Command{HeaterDuty: 1}},
		{100, 40, actuator.Command{HeaterDuty: 100}},
		{-100, 100, actuator.Command{FanDuty: 100}},
		{-30, 0, actuator.Off},
	}
	for _, tc := range testCases {
		require.Equalf(t, tc.expect, Dispatch(tc.signal, tc.fanLimit), "signal %d limit %d", tc.signal, tc.fanLimit)
	}
}

func TestDispatchExclusive(t *testing.T) {
	for signal := -200; signal <= 200; signal++ {
		cmd := Dispatch(signal, DefaultFanLimit)
		require.False(t, cmd.HeaterDuty != 0 && cmd.FanDuty != 0, "signal %d", signal)
		require.LessOrEqual(t, cmd.FanDuty, DefaultFanLimit)
		require.GreaterOrEqual(t, cmd.FanDuty, 0)
		require.GreaterOrEqual(t, cmd.HeaterDuty, 0)
	}
}

func TestCycleHeating(t *testing.T) {
	f := newFixture(t, 150, 180)
	sample, err := f.loop.Cycle(context.Background(), cycleTime)
	require.NoError(t, err)
	require.Equal(t, 100, sample.Signal)

	require.Equal(t, []string{"07-06-2024,18:30:05,150.00,180.00,100%"}, f.log.lines)
	require.Equal(t, 100, f.act.heater)
	require.Equal(t, 0, f.act.fan)
	require.Equal(t, []string{
		"frame request-internal-temperature []",
		"frame request-reference-temperature []",
		"frame send-control-signal [100 0 0 0]",
		"frame send-system-state [1 0 0 0]",
		"frame send-functioning-state [1 0 0 0]",
		"fan 0",
		"heater 100",
	}, f.trace.events)
	require.Len(t, f.pub.samples, 1)
	require.Equal(t, *sample, f.pub.samples[0])
}

func TestCycleCooling(t *testing.T) {
	f := newFixture(t, 230, 180)
	sample, err := f.loop.Cycle(context.Background(), cycleTime)
	require.NoError(t, err)
	require.Equal(t, -100, sample.Signal)
	require.Equal(t, 0, f.act.heater)
	require.Equal(t, 40, f.act.fan)
	require.Equal(t, []int32{-100}, f.node.commands(comm.TypeControlSignal))
	require.True(t, strings.HasSuffix(f.log.lines[0], ",230.00,180.00,-100%"))
}

func TestCycleHold(t *testing.T) {
	f := newFixture(t, 180, 180)
	sample, err := f.loop.Cycle(context.Background(), cycleTime)
	require.NoError(t, err)
	require.Equal(t, 0, sample.Signal)
	require.Equal(t, 0, f.act.heater)
	require.Equal(t, 0, f.act.fan)
}

func TestCycleDropsProtocolErrors(t *testing.T) {
	testCases := []struct {
		name  string
		setup func(*testNode)
		kind  string
	}{
		{"corrupted internal", func(n *testNode) { n.corrupt[comm.TypeReqInternalTemp] = 1 }, "checksum"},
		{"corrupted reference", func(n *testNode) { n.corrupt[comm.TypeReqReferenceTemp] = 1 }, "checksum"},
		{"silent node", func(n *testNode) { n.silent = true }, "no_response"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, 150, 180)
			f.loop.Metrics = metrics.NewAppMetrics(prometheus.NewRegistry())
			tc.setup(f.node)
			sample, err := f.loop.Cycle(context.Background(), cycleTime)
			require.NoError(t, err)
			require.Nil(t, sample)
			require.Equal(t, float64(1), testutil.ToFloat64(f.loop.Metrics.ProtocolErrors.WithLabelValues(tc.kind)))
			require.Equal(t, 1, f.loop.ProtocolErrors())
			require.Empty(t, f.log.lines)
			require.Empty(t, f.node.commands(comm.TypeControlSignal))
			require.Empty(t, f.pub.samples)
			for _, e := range f.trace.events {
				require.False(t, strings.HasPrefix(e, "heater") || strings.HasPrefix(e, "fan"), e)
			}

			f.node.silent = false
			sample, err = f.loop.Cycle(context.Background(), cycleTime)
			require.NoError(t, err)
			require.NotNil(t, sample)
			require.Equal(t, 0, f.loop.ProtocolErrors())
			require.Len(t, f.log.lines, 1)
		})
	}
}

func TestCycleEscalatesProtocolErrors(t *testing.T) {
	f := newFixture(t, 150, 180)
	f.loop.MaxProtocolErrors = 3
	_, err := f.loop.Cycle(context.Background(), cycleTime)
	require.NoError(t, err)
	require.Equal(t, 100, f.act.heater)

	f.node.silent = true
	f.trace.events = nil
	for i := 0; i < 5; i++ {
		_, err = f.loop.Cycle(context.Background(), cycleTime)
		require.NoError(t, err)
		require.Equal(t, i >= 2, f.loop.Failsafe(), "cycle %d", i)
	}
	var actuations []string
	for _, e := range f.trace.events {
		if !strings.HasPrefix(e, "frame") {
			actuations = append(actuations, e)
		}
	}
	require.Equal(t, []string{"heater 0", "fan 0"}, actuations)

	f.node.silent = false
	_, err = f.loop.Cycle(context.Background(), cycleTime)
	require.NoError(t, err)
	require.False(t, f.loop.Failsafe())
	require.Equal(t, 100, f.act.heater)
}

func TestCycleEscalationDisabled(t *testing.T) {
	f := newFixture(t, 150, 180)
	f.loop.MaxProtocolErrors = 0
	f.node.silent = true
	for i := 0; i < 10; i++ {
		_, err := f.loop.Cycle(context.Background(), cycleTime)
		require.NoError(t, err)
	}
	require.False(t, f.loop.Failsafe())
	require.Equal(t, 10, f.loop.ProtocolErrors())
}

func TestCycleTransportErrorIsFatal(t *testing.T) {
	f := newFixture(t, 150, 180)
	f.node.sendErr = errors.New("i/o error")
	sample, err := f.loop.Cycle(context.Background(), cycleTime)
	require.Nil(t, sample)
	require.Error(t, err)
	require.True(t, comm.IsTransportError(err))
	require.Equal(t, 0, f.loop.ProtocolErrors())
}

func TestShutdownSequence(t *testing.T) {
	f := newFixture(t, 150, 180)
	_, err := f.loop.Cycle(context.Background(), cycleTime)
	require.NoError(t, err)
	f.trace.events = nil

	s := f.shutdown()
	require.False(t, s.Done())
	require.NoError(t, s.Shutdown())
	require.True(t, s.Done())
	require.Equal(t, []string{
		"heater 0",
		"fan 0",
		"frame send-system-state [0 0 0 0]",
		"frame send-functioning-state [0 0 0 0]",
		"log closed",
		"port closed",
	}, f.trace.events)
}

func TestShutdownOnce(t *testing.T) {
	f := newFixture(t, 150, 180)
	f.act.heater = 80
	s := f.shutdown()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Shutdown()
		}()
	}
	wg.Wait()
	require.NoError(t, s.Shutdown())

	require.Equal(t, 0, f.act.heater)
	require.Equal(t, 0, f.act.fan)
	require.Equal(t, []int32{0}, f.node.commands(comm.TypeSystemState))
	require.Equal(t, []int32{0}, f.node.commands(comm.TypeFunctioningState))
	require.Equal(t, 1, f.log.closed)
	require.Equal(t, 1, f.node.closed)
}

func TestShutdownSwallowsStatusErrors(t *testing.T) {
	f := newFixture(t, 150, 180)
	f.node.sendErr = errors.New("link down")
	s := f.shutdown()
	require.NoError(t, s.Shutdown())
	require.Equal(t, []string{"heater 0", "fan 0", "log closed", "port closed"}, f.trace.events)
}

func TestShutdownReportsCloseErrors(t *testing.T) {
	f := newFixture(t, 150, 180)
	f.node.closeErr = errors.New("busy")
	s := f.shutdown()
	err := s.Shutdown()
	require.Error(t, err)
	var agg *framework.AggregatedError
	require.ErrorAs(t, err, &agg)
	require.Len(t, agg.Errors, 1)
	require.ErrorIs(t, s.Shutdown(), f.node.closeErr)
}

func TestLoopThenShutdown(t *testing.T) {
	f := newFixture(t, 150, 180)
	ctx, cancel := context.WithCancel(context.Background())
	loop := framework.NewLoop().AddController(f.loop, framework.ControlFunc(func(cc framework.ControlContext) error {
		if cc.Iteration() == 2 {
			cancel()
		}
		return nil
	}))
	require.ErrorIs(t, loop.Run(ctx), context.Canceled)
	require.Len(t, f.log.lines, 3)

	s := f.shutdown()
	require.NoError(t, s.Shutdown())
	require.Equal(t, 0, f.act.heater)
	require.Equal(t, 1, f.node.closed)
}

func TestNewEnvWith(t *testing.T) {
	conf := NewConfig()
	conf.Log.Path = filepath.Join(t.TempDir(), "logs", "log.csv")
	conf.MetricsAddr = "127.0.0.1:0"
	conf.MQTTBrokerURL = ""
	conf.HeaterPWM, conf.FanPWM = nil, nil
	trace := &tracer{}
	node := newTestNode(t, trace, 150, 180)

	e, err := conf.NewEnvWith(node)
	require.NoError(t, err)
	require.NotNil(t, e.Metrics)
	require.Nil(t, e.Telemetry)
	require.Equal(t, Publishers{e.Live}, e.Loop.Publisher)

	for i := 0; i < 2; i++ {
		_, err = e.Loop.Cycle(context.Background(), cycleTime)
		require.NoError(t, err)
	}
	require.Equal(t, 100, e.Actuator.Heater.(*actuator.DryRun).Duty)
	require.NoError(t, e.Shutdown.Shutdown())
	require.Equal(t, 0, e.Actuator.Heater.(*actuator.DryRun).Duty)
	require.Equal(t, 1, node.closed)

	data, err := os.ReadFile(conf.Log.Path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	require.True(t, strings.HasSuffix(lines[0], ",150.00,180.00,100%"))

	require.NotNil(t, e.NewLoop())
}

func TestPublishers(t *testing.T) {
	a, b := &testPublisher{}, &testPublisher{}
	Publishers{a, b}.PublishSample(samplelog.Sample{Signal: 42})
	require.Len(t, a.samples, 1)
	require.Equal(t, 42, b.samples[0].Signal)
}

func TestEnvShutdownSendsStatusOnce(t *testing.T) {
	conf := NewConfig()
	conf.Log.Path = filepath.Join(t.TempDir(), "log.csv")
	conf.MetricsAddr = ""
	conf.MQTTBrokerURL = ""
	conf.HeaterPWM, conf.FanPWM = nil, nil
	conf.WriteRetries = comm.DefaultWriteRetries
	node := newTestNode(t, &tracer{}, 150, 180)

	e, err := conf.NewEnvWith(node)
	require.NoError(t, err)
	require.Equal(t, comm.DefaultWriteRetries, e.Client.WriteRetries)

	node.sendErr = errors.New("link down")
	require.NoError(t, e.Shutdown.Shutdown())
	require.Equal(t, 2, node.sends)
	require.Equal(t, 1, node.closed)
}
