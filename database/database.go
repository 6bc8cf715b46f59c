package database

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/nostrstack/paywatch/database/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// EmbeddedHost selects an embedded postgres instance instead of an external
// server.
const EmbeddedHost = "embedded"

type Database struct {
	host      string
	username  string
	password  string
	database  string
	port      uint32
	dataPath  string
	keepAlive bool

	connection *embeddedpostgres.EmbeddedPostgres
	orm        *gorm.DB
}

// NewDatabase connects to postgres, starting the embedded instance first
// when host is "embedded". The returned func closes the connection and,
// unless keepAlive is set, stops the embedded instance.
func NewDatabase(username, password, database string, port uint32, dataPath, host string, keepAlive bool) (*Database, func() error, error) {
	db := &Database{
		host:      host,
		username:  username,
		password:  password,
		database:  database,
		port:      port,
		dataPath:  dataPath,
		keepAlive: keepAlive,
	}

	if db.IsEmbedded() {
		if err := db.startEmbedded(); err != nil {
			return nil, nil, err
		}
	}

	orm, err := gorm.Open(postgres.Open(db.GetConnectionURL()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		db.stopEmbedded()

		return nil, nil, fmt.Errorf("failed to connect gorm: %w", err)
	}
	db.orm = orm

	return db, db.close, nil
}

func (d *Database) IsEmbedded() bool {
	return d.host == EmbeddedHost
}

func (d *Database) startEmbedded() error {
	cfg := embeddedpostgres.DefaultConfig().
		Username(d.username).
		Password(d.password).
		Database(d.database).
		Port(d.port)
	if d.dataPath != "" {
		cfg = cfg.
			DataPath(filepath.Join(d.dataPath, "data")).
			RuntimePath(filepath.Join(d.dataPath, "runtime"))
	}

	d.connection = embeddedpostgres.NewDatabase(cfg)
	if err := d.connection.Start(); err != nil {
		return fmt.Errorf("failed to start embedded database: %w", err)
	}
	log.Info("✅ DB started")

	return nil
}

func (d *Database) stopEmbedded() {
	if d.connection == nil {
		return
	}
	if err := d.connection.Stop(); err != nil {
		log.Errorf("failed to stop embedded database: %v", err)
	}
	d.connection = nil
}

func (d *Database) close() error {
	var errs []error
	if d.orm != nil {
		sqlDB, err := d.orm.DB()
		if err == nil {
			err = sqlDB.Close()
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to close connection: %w", err))
		}
	}

	if d.connection != nil && !d.keepAlive {
		if err := d.connection.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop embedded database: %w", err))
		}
		d.connection = nil
	}

	return errors.Join(errs...)
}

func (d *Database) GetConnectionURL() string {
	host := d.host
	if d.IsEmbedded() {
		host = "localhost"
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.username, d.password),
		Host:     host + ":" + strconv.FormatUint(uint64(d.port), 10),
		Path:     d.database,
		RawQuery: "sslmode=disable",
	}

	return u.String()
}

func (d *Database) ORM() *gorm.DB {
	return d.orm
}

// MigrateDatabase creates the enum types and brings the tables up to date.
func (d *Database) MigrateDatabase() error {
	if err := d.orm.Exec(models.CreatePaymentStatusEnumSQL()).Error; err != nil {
		return fmt.Errorf("failed to create payment status enum: %w", err)
	}
	if err := d.orm.AutoMigrate(&models.Payment{}); err != nil {
		return fmt.Errorf("failed to migrate models: %w", err)
	}
	log.Info("✅ Database migrated")

	return nil
}

// Reset drops every table and type, then migrates from scratch.
func (d *Database) Reset() error {
	if err := d.Rollback(); err != nil {
		return err
	}

	return d.MigrateDatabase()
}

// Rollback drops everything MigrateDatabase created.
func (d *Database) Rollback() error {
	if err := d.orm.Migrator().DropTable(&models.Payment{}); err != nil {
		return fmt.Errorf("failed to drop payments: %w", err)
	}
	if err := d.orm.Exec(models.DropPaymentStatusEnumSQL()).Error; err != nil {
		return fmt.Errorf("failed to drop payment status enum: %w", err)
	}
	log.Info("✅ Database rolled back")

	return nil
}
