package rewards

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/redemption-engine/generic"
)

// Cipher seals payout destinations. *vault.Vault implements it.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(sealed string) (string, error)
}

// Observer receives lifecycle events for metrics. *metrics.Metrics implements it.
type Observer interface {
	ClaimAttempted(rewardType RewardType, result string)
	BoostTransitioned(from, to BoostStatus, trigger TransitionType)
	RunCompleted(clientID string, duration time.Duration, rowErrors int)
}

type nopObserver struct{}

func (nopObserver) ClaimAttempted(RewardType, string)                          {}
func (nopObserver) BoostTransitioned(BoostStatus, BoostStatus, TransitionType) {}
func (nopObserver) RunCompleted(string, time.Duration, int)                    {}

// Service is the entry point to the redemption engine.
type Service struct {
	store    Store
	cipher   Cipher
	clock    generic.Clock
	log      logrus.FieldLogger
	observer Observer
	eval     *Evaluator
}

// Option configures a Service.
type Option func(*Service)

func WithClock(c generic.Clock) Option       { return func(s *Service) { s.clock = c } }
func WithLogger(l logrus.FieldLogger) Option { return func(s *Service) { s.log = l } }
func WithObserver(o Observer) Option         { return func(s *Service) { s.observer = o } }

// NewService wires a Service. cipher may be nil only if payment info is
// never submitted.
func NewService(store Store, cipher Cipher, opts ...Option) *Service {
	s := &Service{
		store:    store,
		cipher:   cipher,
		clock:    generic.SystemClock{},
		log:      logrus.StandardLogger(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.eval = NewEvaluator(store)
	return s
}

// Evaluator exposes the eligibility rules used by Claim.
func (s *Service) Evaluator() *Evaluator { return s.eval }

func (s *Service) now() time.Time { return s.clock.Now() }
