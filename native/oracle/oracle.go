// Package oracle keeps per-token price feed configuration and the latest
// round published for every feed.
package oracle

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"securepay/native/access"
)

var (
	ErrNotConfigured  = errors.New("oracle: price feed not configured")
	ErrStale          = errors.New("oracle: price feed stale")
	ErrInvalidPrice   = errors.New("oracle: invalid price")
	ErrNoRound        = errors.New("oracle: feed has no published round")
	ErrInvalidFeed    = errors.New("oracle: invalid feed identifier")
	ErrInvalidDecimal = errors.New("oracle: feed decimals out of range")
	errNilState       = errors.New("oracle: state not configured")
)

// DefaultHeartbeat is used until an administrator overrides it.
const DefaultHeartbeat uint64 = 3600

const maxFeedDecimals = 36

// FeedConfig maps a token to a feed. A zero Heartbeat defers to the default.
type FeedConfig struct {
	Feed      string
	Heartbeat uint64
}

// Round is the latest answer published for a feed.
type Round struct {
	Price     *big.Int
	Decimals  uint8
	UpdatedAt uint64
}

// Quote is the point-in-time price handed to callers.
type Quote struct {
	Feed      string
	Price     *big.Int
	Decimals  uint8
	UpdatedAt int64
}

type kvStore interface {
	KVPut(key []byte, value interface{}) error
	KVGet(key []byte, out interface{}) (bool, error)
	KVDelete(key []byte) error
}

type authorizer interface {
	Require(addr common.Address, roles ...access.Role) error
}

// Adapter resolves prices for tokens.
type Adapter struct {
	state  kvStore
	auth   authorizer
	logger *slog.Logger
}

// NewAdapter creates an adapter bound to state and the role registry.
func NewAdapter(state kvStore, auth authorizer) *Adapter {
	return &Adapter{state: state, auth: auth, logger: slog.Default()}
}

// SetLogger overrides the logger used for administrative changes.
func (a *Adapter) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	a.logger = logger
}

var defaultHeartbeatKey = []byte("oracle/default-heartbeat")

func feedConfigKey(token common.Address) []byte {
	return []byte(fmt.Sprintf("oracle/feed/%x", token.Bytes()))
}

func roundKey(feed string) []byte {
	return []byte("oracle/round/" + feed)
}

func normalizeFeed(feed string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(feed))
	if trimmed == "" || len(trimmed) > 64 {
		return "", ErrInvalidFeed
	}
	return trimmed, nil
}

func (a *Adapter) requireOwner(caller common.Address) error {
	if a.auth == nil {
		return nil
	}
	return a.auth.Require(caller, access.RoleOwner)
}

// SetTokenPriceFeed binds token to feed, preserving any heartbeat override.
func (a *Adapter) SetTokenPriceFeed(caller, token common.Address, feed string) error {
	if a == nil || a.state == nil {
		return errNilState
	}
	if err := a.requireOwner(caller); err != nil {
		return err
	}
	normalized, err := normalizeFeed(feed)
	if err != nil {
		return err
	}
	cfg, _, err := a.FeedFor(token)
	if err != nil {
		return err
	}
	cfg.Feed = normalized
	if err := a.state.KVPut(feedConfigKey(token), cfg); err != nil {
		return err
	}
	a.logger.Info("oracle feed configured", slog.String("token", token.Hex()), slog.String("feed", normalized))
	return nil
}

// SetTokenHeartbeat overrides the staleness bound of token. Zero restores the
// default.
func (a *Adapter) SetTokenHeartbeat(caller, token common.Address, seconds uint64) error {
	if a == nil || a.state == nil {
		return errNilState
	}
	if err := a.requireOwner(caller); err != nil {
		return err
	}
	cfg, ok, err := a.FeedFor(token)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotConfigured, token.Hex())
	}
	cfg.Heartbeat = seconds
	return a.state.KVPut(feedConfigKey(token), cfg)
}

// SetDefaultHeartbeat changes the protocol-wide staleness bound.
func (a *Adapter) SetDefaultHeartbeat(caller common.Address, seconds uint64) error {
	if a == nil || a.state == nil {
		return errNilState
	}
	if err := a.requireOwner(caller); err != nil {
		return err
	}
	if seconds == 0 {
		return fmt.Errorf("oracle: default heartbeat must be positive")
	}
	return a.state.KVPut(defaultHeartbeatKey, seconds)
}

// DefaultHeartbeat returns the protocol-wide staleness bound.
func (a *Adapter) DefaultHeartbeat() (uint64, error) {
	if a == nil || a.state == nil {
		return 0, errNilState
	}
	var seconds uint64
	ok, err := a.state.KVGet(defaultHeartbeatKey, &seconds)
	if err != nil {
		return 0, err
	}
	if !ok || seconds == 0 {
		return DefaultHeartbeat, nil
	}
	return seconds, nil
}

// FeedFor returns the configuration of token and whether a feed is bound.
func (a *Adapter) FeedFor(token common.Address) (FeedConfig, bool, error) {
	if a == nil || a.state == nil {
		return FeedConfig{}, false, errNilState
	}
	var cfg FeedConfig
	ok, err := a.state.KVGet(feedConfigKey(token), &cfg)
	if err != nil {
		return FeedConfig{}, false, err
	}
	return cfg, ok && cfg.Feed != "", nil
}

// Publish records a new round for feed. Only accounts holding the oracle role
// may publish. Rounds must not move backwards in time.
func (a *Adapter) Publish(caller common.Address, feed string, price *big.Int, decimals uint8, updatedAt int64) error {
	if a == nil || a.state == nil {
		return errNilState
	}
	if a.auth != nil {
		if err := a.auth.Require(caller, access.RoleOracle); err != nil {
			return err
		}
	}
	normalized, err := normalizeFeed(feed)
	if err != nil {
		return err
	}
	if price == nil || price.Sign() <= 0 {
		return ErrInvalidPrice
	}
	if decimals > maxFeedDecimals {
		return ErrInvalidDecimal
	}
	if updatedAt < 0 {
		return fmt.Errorf("oracle: negative update time")
	}
	var prev Round
	ok, err := a.state.KVGet(roundKey(normalized), &prev)
	if err != nil {
		return err
	}
	if ok && uint64(updatedAt) < prev.UpdatedAt {
		return fmt.Errorf("oracle: round at %d older than %d", updatedAt, prev.UpdatedAt)
	}
	return a.state.KVPut(roundKey(normalized), Round{
		Price:     new(big.Int).Set(price),
		Decimals:  decimals,
		UpdatedAt: uint64(updatedAt),
	})
}

// Price returns the quote for token at now. It fails with ErrNotConfigured
// when no feed is bound and ErrStale once now-updatedAt reaches the
// heartbeat.
func (a *Adapter) Price(token common.Address, now int64) (Quote, error) {
	cfg, ok, err := a.FeedFor(token)
	if err != nil {
		return Quote{}, err
	}
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrNotConfigured, token.Hex())
	}
	var round Round
	found, err := a.state.KVGet(roundKey(cfg.Feed), &round)
	if err != nil {
		return Quote{}, err
	}
	if !found {
		return Quote{}, fmt.Errorf("%w: %s", ErrNoRound, cfg.Feed)
	}
	if round.Price == nil || round.Price.Sign() <= 0 {
		return Quote{}, ErrInvalidPrice
	}
	heartbeat := cfg.Heartbeat
	if heartbeat == 0 {
		if heartbeat, err = a.DefaultHeartbeat(); err != nil {
			return Quote{}, err
		}
	}
	updatedAt := int64(round.UpdatedAt)
	var age uint64
	if now > updatedAt {
		age = uint64(now - updatedAt)
	}
	if age >= heartbeat {
		return Quote{}, fmt.Errorf("%w: %s updated at %d, heartbeat %ds", ErrStale, cfg.Feed, updatedAt, heartbeat)
	}
	return Quote{
		Feed:      cfg.Feed,
		Price:     new(big.Int).Set(round.Price),
		Decimals:  round.Decimals,
		UpdatedAt: updatedAt,
	}, nil
}
