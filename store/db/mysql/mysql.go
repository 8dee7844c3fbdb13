package mysql

import (
	"context"
	"database/sql"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"

	"github.com/cookgpt/cookgpt/internal/profile"
	"github.com/cookgpt/cookgpt/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
	config  *mysql.Config
}

func NewDB(profile *profile.Profile) (store.Driver, error) {
	// Open MySQL connection with parameter.
	// multiStatements=true is required for migration.
	// See more in: https://github.com/go-sql-driver/mysql#multistatements
	dsn, err := mergeDSN(profile.DSN)
	if err != nil {
		return nil, err
	}

	driver := DB{profile: profile}
	driver.config, err = mysql.ParseDSN(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse dsn")
	}

	driver.db, err = sql.Open("mysql", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db: %s", profile.DSN)
	}
	return &driver, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Migrate(ctx context.Context) error {
	stmts := []string{
		"CREATE TABLE IF NOT EXISTS `thread` (" +
			"`id` VARCHAR(36) NOT NULL PRIMARY KEY," +
			"`owner_id` VARCHAR(256) NOT NULL," +
			"`title` VARCHAR(256) NOT NULL DEFAULT 'New Thread'," +
			"`closed` BOOLEAN NOT NULL DEFAULT FALSE," +
			"`is_default` BOOLEAN NOT NULL DEFAULT FALSE," +
			"`created_ts` BIGINT NOT NULL," +
			"`updated_ts` BIGINT NOT NULL," +
			"INDEX `idx_thread_owner` (`owner_id`)" +
			")",
		"CREATE TABLE IF NOT EXISTS `chat` (" +
			"`id` VARCHAR(36) NOT NULL PRIMARY KEY," +
			"`thread_id` VARCHAR(36) NOT NULL," +
			"`previous_id` VARCHAR(36) NULL," +
			"`kind` VARCHAR(16) NOT NULL," +
			"`state` VARCHAR(16) NOT NULL DEFAULT 'pending'," +
			"`content` TEXT NOT NULL," +
			"`cost` INT NOT NULL DEFAULT 0," +
			"`chat_order` INT NOT NULL," +
			"`sent_ts` BIGINT NOT NULL," +
			"CONSTRAINT `unique_order_per_thread` UNIQUE (`thread_id`, `chat_order`)," +
			"INDEX `idx_chat_previous` (`previous_id`)," +
			"CONSTRAINT `fk_chat_thread` FOREIGN KEY (`thread_id`) REFERENCES `thread`(`id`) ON DELETE CASCADE," +
			"CONSTRAINT `fk_chat_previous` FOREIGN KEY (`previous_id`) REFERENCES `chat`(`id`) ON DELETE CASCADE" +
			")",
	}
	for _, s := range stmts {
		if _, err := d.db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func mergeDSN(baseDSN string) (string, error) {
	config, err := mysql.ParseDSN(baseDSN)
	if err != nil {
		return "", errors.Wrapf(err, "failed to parse DSN: %s", baseDSN)
	}

	config.MultiStatements = true
	return config.FormatDSN(), nil
}

func isUniqueViolation(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}
