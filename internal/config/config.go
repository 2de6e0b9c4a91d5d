// Package config loads kage.cfg, the KEY=VALUE/KEY:VALUE text file
// spec.md §6 describes. Unlike the JSON-bound configs in the retrieval
// pack (LarryBui-ThirteenV4's config.GameConfig, HoNfigurator's
// config.Config), this format has no library in the pack to parse it, so
// the line scanner below is hand-rolled; see DESIGN.md for that
// justification. Recognized keys bind directly into Config at load time
// and the raw map is discarded, per spec.md §9's "never consult the map
// afterwards".
package config

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Config holds every recognized kage.cfg setting, bound once at Load
// time.
type Config struct {
	Discord  DiscordConfig
	Netdump  NetdumpConfig
	Ports    PortConfig
	Lobbies  []string
}

// DiscordConfig configures the optional webhook notifier.
type DiscordConfig struct {
	WebhookURL string
}

// Enabled reports whether a webhook has been configured.
func (d DiscordConfig) Enabled() bool { return d.WebhookURL != "" }

// NetdumpConfig configures the optional per-room capture writer.
type NetdumpConfig struct {
	Enabled bool
	Dir     string
}

// PortConfig overrides the four UDP listen addresses; keys absent from
// the config file keep Default's values.
type PortConfig struct {
	Bootstrap  string
	Bomberman  string
	Outtrigger string
	Propeller  string
}

// Default returns the configuration used when no file is present, and the
// base that a file's recognized keys are applied onto, per spec.md §7's
// "log WARN, continue with defaults".
func Default() Config {
	return Config{
		Ports: PortConfig{
			Bootstrap:  ":9090",
			Bomberman:  ":9091",
			Outtrigger: ":9092",
			Propeller:  ":9093",
		},
		Lobbies: []string{"Lobby"},
		Netdump: NetdumpConfig{Dir: "."},
	}
}

// Load reads path and binds its recognized keys onto a copy of
// Default(). A missing file or a malformed line is not fatal: a missing
// file is logged at WARN and the defaults are returned unchanged; a
// malformed line is logged at WARN and skipped, and the file's other keys
// still apply.
func Load(path string, log zerolog.Logger) Config {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("config: file missing, using defaults")
		return cfg
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, val, ok := splitKV(line)
		if !ok {
			log.Warn().Str("path", path).Int("line", lineNo).Str("text", line).Msg("config: unparsable line, ignored")
			continue
		}
		apply(&cfg, key, val, log)
	}
	if err := sc.Err(); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("config: read error, defaults used for remainder")
	}

	return cfg
}

// splitKV splits a KEY=VALUE or KEY:VALUE line, trimming whitespace
// around both sides.
func splitKV(line string) (key, val string, ok bool) {
	i := strings.IndexAny(line, "=:")
	if i < 0 {
		return "", "", false
	}
	key = strings.TrimSpace(line[:i])
	val = strings.TrimSpace(line[i+1:])
	if key == "" {
		return "", "", false
	}
	return key, val, true
}

func apply(cfg *Config, key, val string, log zerolog.Logger) {
	switch strings.ToUpper(key) {
	case "DISCORD_WEBHOOK":
		cfg.Discord.WebhookURL = val
	case "NETDUMP_ENABLED":
		cfg.Netdump.Enabled = parseBool(val)
	case "NETDUMP_DIR":
		cfg.Netdump.Dir = val
	case "LOBBIES":
		cfg.Lobbies = splitNonEmpty(val, ",")
	case "BOOTSTRAP_ADDR":
		cfg.Ports.Bootstrap = val
	case "BOMBERMAN_ADDR":
		cfg.Ports.Bomberman = val
	case "OUTTRIGGER_ADDR":
		cfg.Ports.Outtrigger = val
	case "PROPELLER_ADDR":
		cfg.Ports.Propeller = val
	default:
		log.Warn().Str("key", key).Msg("config: unrecognized key, ignored")
	}
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

func splitNonEmpty(v, sep string) []string {
	var out []string
	for _, p := range strings.Split(v, sep) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
