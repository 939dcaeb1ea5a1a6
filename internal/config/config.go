// Package config loads the colony tuning file. A YAML document is overlaid
// onto Default, environment overrides are applied, and the merged result is
// validated against an embedded JSON schema.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/paulmach/orb"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/talgya/mini-colony/internal/agents"
	"github.com/talgya/mini-colony/internal/engine"
	"github.com/talgya/mini-colony/internal/world"
)

// DefaultPath is read when COLONY_CONFIG is unset.
const DefaultPath = "colony.yaml"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

//go:embed schema.json
var schemaJSON string

var schema = jsonschema.MustCompileString("colony.schema.json", schemaJSON)

// Config is the full tuning document.
type Config struct {
	Grid       Grid       `yaml:"grid" json:"grid"`
	Generation Generation `yaml:"generation" json:"generation"`
	Worker     Worker     `yaml:"worker" json:"worker"`
	Pathfind   Pathfind   `yaml:"pathfind" json:"pathfind"`
	Storage    Storage    `yaml:"storage" json:"storage"`
	Engine     Engine     `yaml:"engine" json:"engine"`
	API        API        `yaml:"api" json:"api"`
	DB         DB         `yaml:"db" json:"db"`
}

type Grid struct {
	Width    int        `yaml:"width" json:"width"`
	Height   int        `yaml:"height" json:"height"`
	CellSize float64    `yaml:"cell_size" json:"cell_size"`
	Origin   [2]float64 `yaml:"origin" json:"origin"`
}

type Generation struct {
	Seed      int64          `yaml:"seed" json:"seed"`
	Density   float64        `yaml:"density" json:"density"`
	Rock      float64        `yaml:"rock" json:"rock"`
	Frequency float64        `yaml:"frequency" json:"frequency"`
	Clearance int            `yaml:"clearance" json:"clearance"`
	Amounts   map[string]int `yaml:"amounts" json:"amounts,omitempty"`    // base node size per kind
	ExtractMS map[string]int `yaml:"extract_ms" json:"extract_ms,omitempty"` // per-kind extraction period
}

type Worker struct {
	Count             int      `yaml:"count" json:"count"`
	SpawnRadius       int      `yaml:"spawn_radius" json:"spawn_radius"`
	MoveSpeed         float64  `yaml:"move_speed" json:"move_speed"`
	WaypointTolerance float64  `yaml:"waypoint_tolerance" json:"waypoint_tolerance"`
	CarryCapacity     int      `yaml:"carry_capacity" json:"carry_capacity"`
	MiningRate        int      `yaml:"mining_rate" json:"mining_rate"`
	MiningIntervalMS  int      `yaml:"mining_interval_ms" json:"mining_interval_ms"`
	MiningRange       float64  `yaml:"mining_range" json:"mining_range"`
	UnloadRange       float64  `yaml:"unload_range" json:"unload_range"`
	UnloadDelayMS     int      `yaml:"unload_delay_ms" json:"unload_delay_ms"`
	SearchIntervalMS  int      `yaml:"search_interval_ms" json:"search_interval_ms"`
	MaxCandidates     int      `yaml:"max_candidates" json:"max_candidates"`
	AllowedKinds      []string `yaml:"allowed_kinds" json:"allowed_kinds,omitempty"`

	ProductionCost map[string]int `yaml:"production_cost" json:"production_cost,omitempty"` // per kind, paid by one storage
	ProductionMS   int            `yaml:"production_ms" json:"production_ms"`
}

type Pathfind struct {
	MaxIterations int `yaml:"max_iterations" json:"max_iterations"`
}

type Storage struct {
	Depots []Depot `yaml:"depots" json:"depots,omitempty"`
}

type Depot struct {
	X        int `yaml:"x" json:"x"`
	Y        int `yaml:"y" json:"y"`
	Capacity int `yaml:"capacity" json:"capacity"`
}

type Engine struct {
	TickIntervalMS int     `yaml:"tick_interval_ms" json:"tick_interval_ms"`
	Speed          float64 `yaml:"speed" json:"speed"`
	ReportEvery    uint64  `yaml:"report_every" json:"report_every"`
	SnapshotEvery  uint64  `yaml:"snapshot_every" json:"snapshot_every"`
}

type API struct {
	Port          int    `yaml:"port" json:"port"`
	AdminKey      string `yaml:"admin_key" json:"admin_key"`
	RatePerMinute int    `yaml:"rate_per_minute" json:"rate_per_minute"`
}

type DB struct {
	Path string `yaml:"path" json:"path"`
}

// Default returns the stock colony: a 48x32 map, two depots and six workers.
func Default() Config {
	gen := world.DefaultGenConfig()
	gen.Seed = 42
	tune := agents.DefaultTuning()
	prod := engine.DefaultProduction()

	amounts := make(map[string]int, world.NumKinds)
	for k, v := range engine.DefaultBaseAmounts() {
		amounts[world.Kind(k).String()] = v
	}
	cost := make(map[string]int, world.NumKinds)
	for k, v := range prod.Cost {
		if v > 0 {
			cost[world.Kind(k).String()] = v
		}
	}

	return Config{
		Grid: Grid{Width: gen.Width, Height: gen.Height, CellSize: 1},
		Generation: Generation{
			Seed:      gen.Seed,
			Density:   gen.Density,
			Rock:      gen.Rock,
			Frequency: gen.Frequency,
			Clearance: gen.Clearance,
			Amounts:   amounts,
			ExtractMS: map[string]int{},
		},
		Worker: Worker{
			Count:             6,
			SpawnRadius:       3,
			MoveSpeed:         tune.MoveSpeed,
			WaypointTolerance: tune.WaypointTolerance,
			CarryCapacity:     tune.CarryCapacity,
			MiningRate:        tune.MiningRate,
			MiningIntervalMS:  int(tune.MiningInterval / time.Millisecond),
			MiningRange:       tune.MiningRange,
			UnloadRange:       tune.UnloadRange,
			UnloadDelayMS:     int(tune.UnloadDelay / time.Millisecond),
			SearchIntervalMS:  int(tune.SearchInterval / time.Millisecond),
			MaxCandidates:     tune.MaxCandidates,
			ProductionCost:    cost,
			ProductionMS:      int(prod.Time / time.Millisecond),
		},
		Pathfind: Pathfind{MaxIterations: 4096},
		Storage: Storage{Depots: []Depot{
			{X: 8, Y: 8, Capacity: 1000},
			{X: 40, Y: 24, Capacity: 1000},
		}},
		Engine: Engine{
			TickIntervalMS: int(engine.DefaultInterval / time.Millisecond),
			Speed:          1,
			ReportEvery:    engine.DefaultReportEvery,
			SnapshotEvery:  200,
		},
		API: API{Port: 8080, RatePerMinute: 60},
		DB:  DB{Path: "data/colony.db"},
	}
}

// Path returns the config file location from COLONY_CONFIG or DefaultPath.
func Path() string {
	if p := os.Getenv("COLONY_CONFIG"); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads path, overlays it onto Default, applies environment overrides
// and validates. A missing file yields the validated defaults.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		raw = nil
	} else if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse is Load without the file read.
func Parse(raw []byte) (Config, error) {
	cfg := Default()
	if len(bytes.TrimSpace(raw)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode yaml: %w", err)
		}
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overlays COLONY_ADMIN_KEY, COLONY_API_PORT and COLONY_DB_PATH.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("COLONY_ADMIN_KEY"); v != "" {
		c.API.AdminKey = v
	}
	if v := getenv("COLONY_API_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("COLONY_API_PORT %q: %w", v, ErrInvalid)
		}
		c.API.Port = port
	}
	if v := getenv("COLONY_DB_PATH"); v != "" {
		c.DB.Path = v
	}
	return nil
}

// Validate checks c against the schema, then the cross-field rules the
// schema cannot express.
func (c Config) Validate() error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	seen := make(map[world.Cell]bool, len(c.Storage.Depots))
	for i, d := range c.Storage.Depots {
		cell := world.Cell{X: d.X, Y: d.Y}
		if d.X >= c.Grid.Width || d.Y >= c.Grid.Height {
			return fmt.Errorf("%w: depot %d at %s outside %dx%d grid", ErrInvalid, i, cell, c.Grid.Width, c.Grid.Height)
		}
		if seen[cell] {
			return fmt.Errorf("%w: depot %d duplicates cell %s", ErrInvalid, i, cell)
		}
		seen[cell] = true
	}
	return nil
}

// Setup converts the grid, worker and pathfinding sections.
func (c Config) Setup() engine.Setup {
	return engine.Setup{
		Width:         c.Grid.Width,
		Height:        c.Grid.Height,
		Origin:        orb.Point{c.Grid.Origin[0], c.Grid.Origin[1]},
		CellSize:      c.Grid.CellSize,
		Seed:          c.Generation.Seed,
		Tuning:        c.Tuning(),
		MaxIterations: c.Pathfind.MaxIterations,
		Allowed:       c.AllowedKinds(),
		Production:    c.Production(),
	}
}

// Production converts the worker production settings.
func (c Config) Production() engine.Production {
	p := engine.Production{Time: ms(c.Worker.ProductionMS)}
	for name, v := range c.Worker.ProductionCost {
		if k, err := world.ParseKind(name); err == nil {
			p.Cost[k] = v
		}
	}
	return p
}

// Tuning converts the worker section.
func (c Config) Tuning() agents.Tuning {
	w := c.Worker
	t := agents.Tuning{
		MoveSpeed:         w.MoveSpeed,
		WaypointTolerance: w.WaypointTolerance,
		CarryCapacity:     w.CarryCapacity,
		MiningRate:        w.MiningRate,
		MiningInterval:    ms(w.MiningIntervalMS),
		MiningRange:       w.MiningRange,
		UnloadRange:       w.UnloadRange,
		UnloadDelay:       ms(w.UnloadDelayMS),
		SearchInterval:    ms(w.SearchIntervalMS),
		MaxCandidates:     w.MaxCandidates,
	}
	for name, v := range c.Generation.ExtractMS {
		if k, err := world.ParseKind(name); err == nil {
			t.KindIntervals[k] = ms(v)
		}
	}
	return t
}

// AllowedKinds returns the configured filter, or every kind when unset.
func (c Config) AllowedKinds() world.KindSet {
	if len(c.Worker.AllowedKinds) == 0 {
		return world.AllKindSet
	}
	var set world.KindSet
	for _, name := range c.Worker.AllowedKinds {
		if k, err := world.ParseKind(name); err == nil {
			set = set.With(k)
		}
	}
	return set
}

// SeedConfig converts the generation, storage and worker count sections.
func (c Config) SeedConfig() engine.SeedConfig {
	g := c.Generation
	sc := engine.SeedConfig{
		Gen: world.GenConfig{
			Width:     c.Grid.Width,
			Height:    c.Grid.Height,
			Seed:      g.Seed,
			Density:   g.Density,
			Rock:      g.Rock,
			Frequency: g.Frequency,
			Clearance: g.Clearance,
		},
		Workers:     c.Worker.Count,
		SpawnRadius: c.Worker.SpawnRadius,
	}
	for name, v := range g.Amounts {
		if k, err := world.ParseKind(name); err == nil {
			sc.BaseAmounts[k] = v
		}
	}
	for _, d := range c.Storage.Depots {
		sc.Depots = append(sc.Depots, engine.DepotSpec{
			Cell:     world.Cell{X: d.X, Y: d.Y},
			Capacity: d.Capacity,
		})
	}
	return sc
}

// TickInterval is the engine step.
func (c Config) TickInterval() time.Duration {
	return ms(c.Engine.TickIntervalMS)
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
