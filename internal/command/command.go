// Package command implements request dispatch: after framing, the first
// argument is uppercased and looked up in a static table giving a handler
// and an arity range; arity violations produce BAD_ARG, unknown verbs
// produce UNKNOWN.
package command

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/photondb/photondb/internal/keyspace"
	"github.com/photondb/photondb/internal/wire"
)

// Snapshotter is the subset of internal/snapshot's API the SAVE/LOAD
// handlers need, kept as an interface here so command does not import
// snapshot directly (snapshot instead depends on keyspace, and command
// is wired to a concrete Snapshotter by cmd/photondb-server at startup).
type Snapshotter interface {
	Save() error
	Load() error
}

// Dispatcher executes commands against a keyspace.Store.
type Dispatcher struct {
	store    *keyspace.Store
	snapshot Snapshotter
	nowMs    func() int64
}

// New returns a Dispatcher. nowMs supplies the current time in
// milliseconds (injected so tests can control it); pass nil to use the
// real wall clock.
func New(store *keyspace.Store, snapshot Snapshotter, nowMs func() int64) *Dispatcher {
	if nowMs == nil {
		nowMs = defaultNowMs
	}
	return &Dispatcher{store: store, snapshot: snapshot, nowMs: nowMs}
}

type spec struct {
	minArgs int // not counting the command name
	maxArgs int
	handler func(d *Dispatcher, args []string) wire.Value
}

// table is built once at package init: a static map from uppercased verb
// to (handler, min_args, max_args).
var table map[string]spec

func init() {
	table = map[string]spec{
		"ZAP":     {0, 0, (*Dispatcher).zap},
		"GET":     {1, 1, (*Dispatcher).get},
		"SET":     {2, 2, (*Dispatcher).set},
		"DEL":     {1, 1, (*Dispatcher).del},
		"KEYS":    {0, 0, (*Dispatcher).keys},
		"ZADD":    {3, 3, (*Dispatcher).zadd},
		"ZREM":    {2, 2, (*Dispatcher).zrem},
		"ZSCORE":  {2, 2, (*Dispatcher).zscore},
		"ZQUERY":  {5, 5, (*Dispatcher).zquery},
		"PEXPIRE": {2, 2, (*Dispatcher).pexpire},
		"PTTL":    {1, 1, (*Dispatcher).pttl},
		"SAVE":    {0, 0, (*Dispatcher).save},
		"LOAD":    {0, 0, (*Dispatcher).load},
	}
}

// Dispatch executes one already-parsed request (args[0] is the verb) and
// returns its tagged response.
func (d *Dispatcher) Dispatch(args []string) wire.Value {
	if len(args) == 0 {
		return wire.Err(wire.ErrCodeUnknown, "empty request")
	}
	verb := strings.ToUpper(args[0])
	sp, ok := table[verb]
	if !ok {
		return wire.Err(wire.ErrCodeUnknown, "unknown command: "+verb)
	}
	n := len(args) - 1
	if n < sp.minArgs || n > sp.maxArgs {
		return wire.Err(wire.ErrCodeBadArg, "wrong number of arguments for "+verb)
	}
	return sp.handler(d, args[1:])
}

func (d *Dispatcher) zap(args []string) wire.Value {
	return wire.Str("ZING")
}

func (d *Dispatcher) get(args []string) wire.Value {
	val, ok, wrongType := d.store.GetString(args[0])
	switch {
	case wrongType:
		return wire.Err(wire.ErrCodeBadType, "key holds the wrong type")
	case !ok:
		return wire.Nil()
	default:
		return wire.Str(val)
	}
}

func (d *Dispatcher) set(args []string) wire.Value {
	if err := d.store.SetString(args[0], args[1]); err != nil {
		return wire.Err(wire.ErrCodeBadType, err.Error())
	}
	return wire.OK()
}

func (d *Dispatcher) del(args []string) wire.Value {
	if d.store.Delete(args[0]) {
		return wire.Int(1)
	}
	return wire.Int(0)
}

func (d *Dispatcher) keys(args []string) wire.Value {
	keys := d.store.Keys()
	items := make([]wire.Value, len(keys))
	for i, k := range keys {
		items[i] = wire.Str(k)
	}
	return wire.Arr(items)
}

func (d *Dispatcher) zadd(args []string) wire.Value {
	score, err := parseScore(args[1])
	if err != nil {
		return wire.Err(wire.ErrCodeBadArg, err.Error())
	}
	isNew, err := d.store.ZAdd(args[0], args[2], score)
	if err != nil {
		return wire.Err(wire.ErrCodeBadType, err.Error())
	}
	if isNew {
		return wire.Int(1)
	}
	return wire.Int(0)
}

func (d *Dispatcher) zrem(args []string) wire.Value {
	removed, err := d.store.ZRem(args[0], args[1])
	if err != nil {
		return wire.Err(wire.ErrCodeBadType, err.Error())
	}
	if removed {
		return wire.Int(1)
	}
	return wire.Int(0)
}

func (d *Dispatcher) zscore(args []string) wire.Value {
	score, ok, err := d.store.ZScore(args[0], args[1])
	if err != nil {
		return wire.Err(wire.ErrCodeBadType, err.Error())
	}
	if !ok {
		return wire.Nil()
	}
	return wire.Dbl(score)
}

func (d *Dispatcher) zquery(args []string) wire.Value {
	score, err := parseScore(args[1])
	if err != nil {
		return wire.Err(wire.ErrCodeBadArg, err.Error())
	}
	offset, err := strconv.ParseInt(args[3], 10, 64)
	if err != nil {
		return wire.Err(wire.ErrCodeBadArg, "offset must be an integer")
	}
	limit, err := strconv.ParseInt(args[4], 10, 64)
	if err != nil {
		return wire.Err(wire.ErrCodeBadArg, "limit must be an integer")
	}

	results, err := d.store.ZQuery(args[0], score, args[2], offset, limit)
	if err != nil {
		return wire.Err(wire.ErrCodeBadType, err.Error())
	}

	items := make([]wire.Value, 0, 2*len(results))
	for _, r := range results {
		items = append(items, wire.Str(r.Name), wire.Dbl(r.Score))
	}
	return wire.Arr(items)
}

func (d *Dispatcher) pexpire(args []string) wire.Value {
	ttl, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return wire.Err(wire.ErrCodeBadArg, "ttl_ms must be an integer")
	}
	if d.store.PExpire(args[0], ttl, d.nowMs()) {
		return wire.Int(1)
	}
	return wire.Int(0)
}

func (d *Dispatcher) pttl(args []string) wire.Value {
	return wire.Int(d.store.PTTL(args[0], d.nowMs()))
}

func (d *Dispatcher) save(args []string) wire.Value {
	if d.snapshot == nil {
		return wire.Err(wire.ErrCodeUnknown, "snapshot support not configured")
	}
	if err := d.snapshot.Save(); err != nil {
		return wire.Err(wire.ErrCodeUnknown, err.Error())
	}
	return wire.OK()
}

func (d *Dispatcher) load(args []string) wire.Value {
	if d.snapshot == nil {
		return wire.Err(wire.ErrCodeUnknown, "snapshot support not configured")
	}
	if err := d.snapshot.Load(); err != nil {
		return wire.Err(wire.ErrCodeUnknown, err.Error())
	}
	return wire.OK()
}

// errBadScore is reported for any score that fails to parse, is NaN, or
// is ±Inf.
var errBadScore = errors.New("score must be a finite number")

// parseScore parses a ZADD/ZQUERY score argument. NaN is always rejected,
// and ±Inf too, to keep the (score, name) comparator a total order.
func parseScore(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errBadScore
	}
	return f, nil
}

func defaultNowMs() int64 {
	return time.Now().UnixMilli()
}
