package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Port     string
		LogLevel string
	}
	Chord struct {
		Key       string
		Modifiers []string
	}
	Timing struct {
		LongPress      time.Duration
		ConfirmWindow  time.Duration
		ModeDedup      time.Duration
		InterruptDedup time.Duration
		ChordStale     time.Duration
		WatchdogTick   time.Duration
		StuckAfter     time.Duration
		ActionGap      time.Duration
	}
	Worker struct {
		TokenSecret   string
		TokenSkewSecs int
		CaptureCmd    string
		PlaybackCmd   string
		HookCmd       string
	}
}

func Load() Config {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 7355)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("chord.key", "f13")
	v.SetDefault("chord.modifiers", "alt")

	v.SetDefault("timing.long_press_ms", 350)
	v.SetDefault("timing.confirm_window_ms", 40)
	v.SetDefault("timing.mode_dedup_ms", 250)
	v.SetDefault("timing.interrupt_dedup_ms", 500)
	v.SetDefault("timing.chord_stale_secs", 5)
	v.SetDefault("timing.watchdog_tick_secs", 2)
	v.SetDefault("timing.stuck_after_secs", 30)
	v.SetDefault("timing.action_gap_secs", 5)

	v.SetDefault("worker.token_skew_secs", 30)

	// Map envs
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.log_level", "LOG_LEVEL")

	v.BindEnv("chord.key", "PTK_CHORD_KEY")
	v.BindEnv("chord.modifiers", "PTK_CHORD_MODIFIERS")

	v.BindEnv("timing.long_press_ms", "PTK_LONG_PRESS_MS")
	v.BindEnv("timing.confirm_window_ms", "PTK_CONFIRM_WINDOW_MS")
	v.BindEnv("timing.mode_dedup_ms", "PTK_MODE_DEDUP_MS")
	v.BindEnv("timing.interrupt_dedup_ms", "PTK_INTERRUPT_DEDUP_MS")
	v.BindEnv("timing.chord_stale_secs", "PTK_CHORD_STALE_SECS")
	v.BindEnv("timing.watchdog_tick_secs", "PTK_WATCHDOG_TICK_SECS")
	v.BindEnv("timing.stuck_after_secs", "PTK_STUCK_AFTER_SECS")
	v.BindEnv("timing.action_gap_secs", "PTK_ACTION_GAP_SECS")

	v.BindEnv("worker.token_secret", "PTK_WORKER_TOKEN_SECRET")
	v.BindEnv("worker.token_skew_secs", "PTK_WORKER_TOKEN_SKEW_SECS")
	v.BindEnv("worker.capture_cmd", "PTK_CAPTURE_WORKER_CMD")
	v.BindEnv("worker.playback_cmd", "PTK_PLAYBACK_WORKER_CMD")
	v.BindEnv("worker.hook_cmd", "PTK_HOOK_WORKER_CMD")

	var c Config
	c.Server.Port = v.GetString("server.port")
	c.Server.LogLevel = v.GetString("server.log_level")

	c.Chord.Key = strings.ToLower(v.GetString("chord.key"))
	c.Chord.Modifiers = splitList(v.GetString("chord.modifiers"))

	ms := func(key string) time.Duration { return time.Duration(v.GetInt(key)) * time.Millisecond }
	secs := func(key string) time.Duration { return time.Duration(v.GetInt(key)) * time.Second }

	c.Timing.LongPress = ms("timing.long_press_ms")
	c.Timing.ConfirmWindow = ms("timing.confirm_window_ms")
	c.Timing.ModeDedup = ms("timing.mode_dedup_ms")
	c.Timing.InterruptDedup = ms("timing.interrupt_dedup_ms")
	c.Timing.ChordStale = secs("timing.chord_stale_secs")
	c.Timing.WatchdogTick = secs("timing.watchdog_tick_secs")
	c.Timing.StuckAfter = secs("timing.stuck_after_secs")
	c.Timing.ActionGap = secs("timing.action_gap_secs")

	c.Worker.TokenSecret = v.GetString("worker.token_secret")
	c.Worker.TokenSkewSecs = v.GetInt("worker.token_skew_secs")
	c.Worker.CaptureCmd = v.GetString("worker.capture_cmd")
	c.Worker.PlaybackCmd = v.GetString("worker.playback_cmd")
	c.Worker.HookCmd = v.GetString("worker.hook_cmd")

	return c
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
