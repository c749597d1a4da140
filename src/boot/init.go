package boot

import (
	"carepay/src/admin"
	"carepay/src/config"
	"carepay/src/connect"
	"carepay/src/db"
	"carepay/src/ledger"
	"carepay/src/lib"
	awslib "carepay/src/lib/aws"
	"carepay/src/models"
	"carepay/src/payments"
	"carepay/src/payouts"
	"carepay/src/types"
	"carepay/src/webhooks"
	"context"
	"errors"
	"log"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

func InitDb() *gorm.DB {
	db := db.GetDb()

	err := db.AutoMigrate(models.All()...)
	if err != nil {
		log.Fatalf("error migration: %s", err.Error())
	}

	return db
}

// Services is every component of the money core, wired together.
type Services struct {
	Config    *config.Payments
	Gateway   lib.PaymentGateway
	Payments  *payments.Service
	Accounts  *connect.Manager
	Payouts   *payouts.Engine
	Webhooks  *webhooks.Processor
	Snapshots *ledger.SnapshotService
	Admin     *admin.Service
}

// Deps are the outer collaborators. Nil publisher, alerter or archiver fall
// back to logging no-ops; a nil redis client disables caching.
type Deps struct {
	DB            *gorm.DB
	Gateway       lib.PaymentGateway
	Config        *config.Payments
	Redis         *redis.Client
	Cipher        *lib.Cipher
	SigningSecret string
	Publisher     lib.Publisher
	Alerter       lib.Alerter
	Archiver      lib.Archiver
}

// NewServices builds the components and routes every consumed webhook type
// to its owner.
func NewServices(d Deps) *Services {
	if d.Publisher == nil {
		d.Publisher = lib.NopPublisher{}
	}
	if d.Alerter == nil {
		d.Alerter = lib.NopAlerter{}
	}
	if d.Archiver == nil {
		d.Archiver = lib.NopArchiver{}
	}
	accounts := connect.NewManager(d.DB, d.Gateway, d.Config, d.Redis)
	snapshots := ledger.NewSnapshotService(d.DB, d.Gateway, d.Config, d.Archiver, d.Alerter, d.Publisher)
	s := &Services{
		Config:    d.Config,
		Gateway:   d.Gateway,
		Payments:  payments.NewService(d.DB, d.Gateway, d.Config, d.Publisher, d.Alerter),
		Accounts:  accounts,
		Payouts:   payouts.NewEngine(d.DB, d.Gateway, accounts, d.Config, d.Publisher),
		Webhooks:  webhooks.NewProcessor(webhooks.NewLedger(d.DB, d.Cipher, d.Config.WebhookMaxRetries, d.Config.WebhookLease), d.SigningSecret),
		Snapshots: snapshots,
		Admin:     admin.NewService(d.DB, d.Gateway, accounts, snapshots, d.Config, d.Redis, d.Publisher),
	}
	s.Webhooks.Handle("payment_intent.succeeded", s.Payments.HandleIntentSucceeded)
	s.Webhooks.Handle("payment_intent.payment_failed", s.Payments.HandleIntentFailed)
	s.Webhooks.Handle("charge.refunded", s.Admin.HandleChargeRefunded)
	s.Webhooks.Handle("account.updated", s.Accounts.ApplyAccountUpdate)
	s.Webhooks.Handle("transfer.reversed", s.Payouts.HandleTransferReversed)
	return s
}

// InitServices wires the core from the environment. Outside local, events go
// to SQS, alerts to SNS, snapshots to S3, and the payload key comes from
// Secrets Manager.
func InitServices(ctx context.Context) (*Services, error) {
	cfg := config.LoadPayments()
	cipher, err := payloadCipher(ctx, cfg)
	if err != nil {
		return nil, err
	}
	d := Deps{
		DB:            db.GetDb(),
		Gateway:       lib.NewStripeGateway(lib.GetStripeClient()),
		Config:        cfg,
		Redis:         lib.GetRedisClient(),
		Cipher:        cipher,
		SigningSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
	}
	if types.AppEnv(config.API_ENV) == types.Local {
		if os.Getenv("KAFKA_BROKER") != "" {
			if _, err := lib.KafkaCreateTopics(cfg.EventsQueue); err != nil {
				log.Printf("[Kafka] Error creating topic %s: %s\n", cfg.EventsQueue, err.Error())
			}
			kp, err := lib.NewKafkaPublisher("carepay-api", cfg.EventsQueue)
			if err != nil {
				log.Printf("[Kafka] Falling back to log publisher: %s\n", err.Error())
			} else {
				d.Publisher = kp
			}
		}
		return NewServices(d), nil
	}

	sqsClient, err := awslib.GetSQSClient(ctx)
	if err != nil {
		return nil, err
	}
	d.Publisher = awslib.NewSQSPublisher(sqsClient, cfg.EventsQueue)
	if cfg.AlertTopicArn != "" {
		snsClient, err := awslib.GetSNSClient(ctx)
		if err != nil {
			return nil, err
		}
		d.Alerter = awslib.NewSNSAlerter(snsClient, cfg.AlertTopicArn)
	}
	if cfg.SnapshotArchiveBucket != "" {
		s3Client, err := awslib.GetS3Client(ctx)
		if err != nil {
			return nil, err
		}
		d.Archiver = awslib.NewS3Archiver(s3Client, cfg.SnapshotArchiveBucket)
	}
	return NewServices(d), nil
}

func payloadCipher(ctx context.Context, cfg *config.Payments) (*lib.Cipher, error) {
	if cfg.PayloadKeySecretID == "" {
		key := os.Getenv("WEBHOOK_PAYLOAD_KEY")
		if key == "" {
			return nil, errors.New("WEBHOOK_PAYLOAD_KEY or PAYLOAD_KEY_SECRET_ID must be set")
		}
		return lib.NewCipherFromHex(key)
	}
	client, err := awslib.GetSecretsClient(ctx)
	if err != nil {
		return nil, err
	}
	key, err := awslib.GetSecretString(ctx, client, cfg.PayloadKeySecretID)
	if err != nil {
		log.Printf("[SecretsManager] Error retrieving payload key: %s\n", err.Error())
		return nil, err
	}
	return lib.NewCipherFromHex(key)
}

const (
	JOB_PAYOUT_RUN    = "payout-run"
	JOB_SNAPSHOT      = "daily-snapshot"
	JOB_WEBHOOK_SWEEP = "webhook-retry-sweep"
)

func runPayouts(s *Services) {
	if _, err := s.Payouts.RunScheduled(context.Background(), time.Now().UTC(), "daily"); err != nil {
		log.Printf("[Jobs] Payout run failed: %s\n", err.Error())
	}
}

func runSnapshot(s *Services) {
	if _, _, err := s.Snapshots.Run(context.Background(), time.Now().UTC()); err != nil {
		log.Printf("[Jobs] Snapshot failed: %s\n", err.Error())
	}
}

func runSweep(s *Services) {
	if _, err := s.Webhooks.RetrySweep(context.Background()); err != nil {
		log.Printf("[Jobs] Webhook retry sweep failed: %s\n", err.Error())
	}
}

// InitScheduler registers the recurring jobs and starts the scheduler.
func InitScheduler(s *Services) error {
	sched, err := lib.GetScheduler()
	if err != nil {
		log.Println("An error has occurred. Check logs for info")
		return err
	}
	cfg := s.Config
	if _, err := lib.CreateDailyJob(JOB_PAYOUT_RUN, cfg.PayoutRunHourUTC, 0, runPayouts, s); err != nil {
		log.Printf("Error scheduling %s: %s\n", JOB_PAYOUT_RUN, err.Error())
		return err
	}
	if _, err := lib.CreateDailyJob(JOB_SNAPSHOT, cfg.SnapshotHourUTC, cfg.SnapshotMinuteUTC, runSnapshot, s); err != nil {
		log.Printf("Error scheduling %s: %s\n", JOB_SNAPSHOT, err.Error())
		return err
	}
	if _, err := lib.CreateCronJob(JOB_WEBHOOK_SWEEP, cfg.WebhookSweepInterval, runSweep, s); err != nil {
		log.Printf("Error scheduling %s: %s\n", JOB_WEBHOOK_SWEEP, err.Error())
		return err
	}
	log.Println("Jobs in queue:", len(sched.Jobs()))
	sched.Start()
	return nil
}

func StopScheduler() {
	sched, err := lib.GetScheduler()
	if err != nil {
		log.Println("Error retrieving Scheduler. Check logs for info")
		return
	}
	err = sched.Shutdown()
	if err != nil {
		log.Println("An error has occurred while shutting stopping Scheduler. Check logs for info")
		return
	}
}
