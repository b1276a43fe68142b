package actuator

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type call struct {
	heater bool
	duty   int
}

type recorder struct {
	calls []call
}

func (r *recorder) SetHeaterDuty(percent int) { r.calls = append(r.calls, call{true, percent}) }
func (r *recorder) SetFanDuty(percent int)    { r.calls = append(r.calls, call{false, percent}) }

func TestApply(t *testing.T) {
	testCases := []struct {
		name   string
		cmd    Command
		expect []call
	}{
		{"heat", Command{HeaterDuty: 60}, []call{{false, 0}, {true, 60}}},
		{"cool", Command{FanDuty: 40}, []call{{true, 0}, {false, 40}}},
		{"off", Off, []call{{true, 0}, {false, 0}}},
		{"heat clamped", Command{HeaterDuty: 150}, []call{{false, 0}, {true, 100}}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := &recorder{}
			Apply(r, tc.cmd)
			require.Equal(t, tc.expect, r.calls)
		})
	}
}

func TestCommand(t *testing.T) {
	require.True(t, Off.IsOff())
	require.False(t, Command{FanDuty: 1}.IsOff())
	require.Equal(t, "heater=10% fan=0%", Command{HeaterDuty: 10}.String())
}

func TestClampDuty(t *testing.T) {
	require.Equal(t, 0, ClampDuty(-3))
	require.Equal(t, 55, ClampDuty(55))
	require.Equal(t, 100, ClampDuty(101))
}

func readAttr(t *testing.T, dir, name string) string {
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	return string(data)
}

func TestSysfsPWM(t *testing.T) {
	root := t.TempDir()
	saved := SysfsRoot
	SysfsRoot = root
	defer func() { SysfsRoot = saved }()

	dir := filepath.Join(root, "pwmchip0", "pwm1")
	require.NoError(t, os.MkdirAll(dir, 0755))

	ch, err := OpenPWM("heater", PWMConfig{Chip: 0, Channel: 1, Period: time.Millisecond})
	require.NoError(t, err)
	require.Equal(t, "heater", ch.Name())
	require.Equal(t, "1000000", readAttr(t, dir, "period"))
	require.Equal(t, "1", readAttr(t, dir, "enable"))
	require.Equal(t, "0", readAttr(t, dir, "duty_cycle"))

	require.NoError(t, ch.SetDuty(25))
	require.Equal(t, "250000", readAttr(t, dir, "duty_cycle"))
	require.NoError(t, ch.SetDuty(120))
	require.Equal(t, "1000000", readAttr(t, dir, "duty_cycle"))

	require.NoError(t, ch.Close())
	require.Equal(t, "0", readAttr(t, dir, "duty_cycle"))
	require.Equal(t, "0", readAttr(t, dir, "enable"))
}

func TestSysfsPWMMissingChip(t *testing.T) {
	saved := SysfsRoot
	SysfsRoot = filepath.Join(t.TempDir(), "none")
	defer func() { SysfsRoot = saved }()
	_, err := OpenPWM("fan", PWMConfig{})
	require.Error(t, err)
}

func TestPair(t *testing.T) {
	heater := &DryRun{ChannelName: "heater"}
	fan := &DryRun{ChannelName: "fan"}
	p := &Pair{Heater: heater, Fan: fan}
	Apply(p, Command{FanDuty: 30})
	require.Equal(t, 0, heater.Duty)
	require.Equal(t, 30, fan.Duty)
	Apply(p, Command{HeaterDuty: 70})
	require.Equal(t, 70, heater.Duty)
	require.Equal(t, 0, fan.Duty)
	require.NoError(t, p.Close())
	require.Equal(t, 0, heater.Duty)
}
