package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"

	"lottery-reservation/internal/config"
	"lottery-reservation/internal/logger"
	"lottery-reservation/internal/models"
)

const (
	mysqlErrDuplicateEntry  = 1062
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

type txKey struct{}

type MySQLStore struct {
	db        *bun.DB
	log       *logger.Logger
	txRetries int
}

func NewMySQLStore(cfg config.DatabaseConfig, log *logger.Logger) (*MySQLStore, error) {
	log.LogDatabase("CONNECT", "mysql", fmt.Sprintf("Connecting to MySQL at %s:%s", cfg.Host, cfg.Port))

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	sqldb, err := sql.Open("mysql", dsn)
	if err != nil {
		log.Error("DATABASE", "Failed to open MySQL connection: "+err.Error())
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.MaxLifetime)

	if err := sqldb.Ping(); err != nil {
		log.Error("DATABASE", "Failed to ping MySQL: "+err.Error())
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &MySQLStore{
		db:        bun.NewDB(sqldb, mysqldialect.New()),
		log:       log,
		txRetries: cfg.TxRetries,
	}

	if err := store.initTables(context.Background()); err != nil {
		log.Error("DATABASE", "Failed to initialize tables: "+err.Error())
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}

	log.LogDatabase("SUCCESS", "mysql", "MySQL connection established and tables initialized")
	return store, nil
}

// Schema is the DDL applied at startup and by the migrate script.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS houses (
        id VARCHAR(36) PRIMARY KEY,
        title VARCHAR(255) NOT NULL DEFAULT '',
        total_tickets INT NOT NULL,
        ticket_price DECIMAL(10,2) NOT NULL,
        max_participants INT NOT NULL DEFAULT 0,
        status VARCHAR(20) NOT NULL,
        lottery_start_date DATETIME(3) NOT NULL,
        lottery_end_date DATETIME(3) NOT NULL,
        ticket_sequence BIGINT NOT NULL DEFAULT 0,
        created_at DATETIME(3) NOT NULL,
        INDEX idx_status_end (status, lottery_end_date)
    ) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	`CREATE TABLE IF NOT EXISTS reservations (
        id VARCHAR(36) PRIMARY KEY,
        house_id VARCHAR(36) NOT NULL,
        user_id VARCHAR(64) NOT NULL,
        quantity INT NOT NULL,
        total_price DECIMAL(10,2) NOT NULL,
        promotion_code VARCHAR(64) NULL,
        discount_amount DECIMAL(10,2) NOT NULL DEFAULT 0,
        status VARCHAR(20) NOT NULL,
        reservation_token VARCHAR(64) NOT NULL,
        payment_method_id VARCHAR(255) NULL,
        expires_at DATETIME(3) NOT NULL,
        processed_at DATETIME(3) NULL,
        payment_transaction_id VARCHAR(255) NULL,
        error_message TEXT NULL,
        created_at DATETIME(3) NOT NULL,
        updated_at DATETIME(3) NOT NULL,
        UNIQUE KEY uq_reservation_token (reservation_token),
        INDEX idx_house_status (house_id, status),
        INDEX idx_user_created (user_id, created_at),
        INDEX idx_status_expires (status, expires_at)
    ) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	`CREATE TABLE IF NOT EXISTS tickets (
        id VARCHAR(36) PRIMARY KEY,
        house_id VARCHAR(36) NOT NULL,
        user_id VARCHAR(64) NOT NULL,
        ticket_number VARCHAR(32) NOT NULL,
        purchase_price DECIMAL(10,2) NOT NULL,
        status VARCHAR(10) NOT NULL,
        payment_id VARCHAR(255) NOT NULL,
        batch_index INT NOT NULL,
        reservation_id VARCHAR(36) NULL,
        is_winner BOOLEAN NOT NULL DEFAULT FALSE,
        created_at DATETIME(3) NOT NULL,
        UNIQUE KEY uq_house_ticket_number (house_id, ticket_number),
        UNIQUE KEY uq_payment_batch (payment_id, batch_index),
        INDEX idx_house_status_user (house_id, status, user_id)
    ) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	`CREATE TABLE IF NOT EXISTS audit_records (
        id VARCHAR(36) PRIMARY KEY,
        kind VARCHAR(40) NOT NULL,
        reservation_id VARCHAR(36) NULL,
        payment_id VARCHAR(255) NULL,
        detail TEXT,
        created_at DATETIME(3) NOT NULL,
        INDEX idx_kind_created (kind, created_at)
    ) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
}

func (s *MySQLStore) initTables(ctx context.Context) error {
	s.log.LogDatabase("MIGRATE", "mysql", "Creating tables if not exist")
	for _, ddl := range Schema {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	s.log.LogDatabase("SUCCESS", "mysql", "Houses, reservations, tickets and audit tables ready")
	return nil
}

func (s *MySQLStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(bun.Tx); ok {
		return fn(ctx)
	}

	opts := &sql.TxOptions{Isolation: sql.LevelSerializable}
	var err error
	for attempt := 0; attempt <= s.txRetries; attempt++ {
		err = s.db.RunInTx(ctx, opts, func(ctx context.Context, tx bun.Tx) error {
			return fn(context.WithValue(ctx, txKey{}, tx))
		})
		if err == nil || !isRetryable(err) {
			return err
		}
		s.log.Warn("DATABASE", fmt.Sprintf("Serializable transaction aborted (attempt %d/%d): %v", attempt+1, s.txRetries+1, err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 20 * time.Millisecond):
		}
	}
	return err
}

func (s *MySQLStore) conn(ctx context.Context) bun.IDB {
	if tx, ok := ctx.Value(txKey{}).(bun.Tx); ok {
		return tx
	}
	return s.db
}

func (s *MySQLStore) SaveHouse(ctx context.Context, house *models.House) error {
	s.log.LogDatabase("UPSERT", "mysql", fmt.Sprintf("Saving house %s", house.ID))
	_, err := s.conn(ctx).NewInsert().Model(house).
		On("DUPLICATE KEY UPDATE").
		Set("title = VALUES(title)").
		Set("total_tickets = VALUES(total_tickets)").
		Set("ticket_price = VALUES(ticket_price)").
		Set("max_participants = VALUES(max_participants)").
		Set("status = VALUES(status)").
		Set("lottery_start_date = VALUES(lottery_start_date)").
		Set("lottery_end_date = VALUES(lottery_end_date)").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to save house: %w", err)
	}
	return nil
}

func (s *MySQLStore) GetHouse(ctx context.Context, id string) (*models.House, error) {
	house := new(models.House)
	err := s.conn(ctx).NewSelect().Model(house).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get house: %w", err)
	}
	return house, nil
}

func (s *MySQLStore) ListActiveHouses(ctx context.Context, now time.Time) ([]*models.House, error) {
	var houses []*models.House
	err := s.conn(ctx).NewSelect().Model(&houses).
		Where("status = ?", models.HouseStatusActive).
		Where("lottery_end_date > ?", now).
		Order("lottery_end_date ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active houses: %w", err)
	}
	return houses, nil
}

func (s *MySQLStore) AllocateTicketSequence(ctx context.Context, houseID string, n int) (int64, error) {
	db := s.conn(ctx)
	res, err := db.NewUpdate().Model((*models.House)(nil)).
		Set("ticket_sequence = ticket_sequence + ?", n).
		Where("id = ?", houseID).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to advance ticket sequence: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return 0, ErrNotFound
	}

	var last int64
	if err := db.NewSelect().Model((*models.House)(nil)).
		Column("ticket_sequence").
		Where("id = ?", houseID).
		Scan(ctx, &last); err != nil {
		return 0, fmt.Errorf("failed to read ticket sequence: %w", err)
	}
	return last - int64(n) + 1, nil
}

func (s *MySQLStore) CreateReservation(ctx context.Context, reservation *models.Reservation) error {
	s.log.LogDatabase("INSERT", "mysql", fmt.Sprintf("Saving reservation %s", reservation.ID))
	if _, err := s.conn(ctx).NewInsert().Model(reservation).Exec(ctx); err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to save reservation: %w", err)
	}
	return nil
}

func (s *MySQLStore) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	reservation := new(models.Reservation)
	err := s.conn(ctx).NewSelect().Model(reservation).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	return reservation, nil
}

func (s *MySQLStore) ListUserReservations(ctx context.Context, userID string, limit, offset int) ([]*models.Reservation, int, error) {
	var reservations []*models.Reservation
	total, err := s.conn(ctx).NewSelect().Model(&reservations).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		ScanAndCount(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list reservations: %w", err)
	}
	return reservations, total, nil
}

func (s *MySQLStore) ListExpiredReservations(ctx context.Context, now time.Time, limit int) ([]*models.Reservation, error) {
	var reservations []*models.Reservation
	err := s.conn(ctx).NewSelect().Model(&reservations).
		Where("status = ?", models.ReservationPending).
		Where("expires_at < ?", now).
		Order("expires_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired reservations: %w", err)
	}
	return reservations, nil
}

func (s *MySQLStore) TransitionReservation(ctx context.Context, id string, status models.ReservationStatus, update ReservationUpdate) (bool, error) {
	q := s.conn(ctx).NewUpdate().Model((*models.Reservation)(nil)).
		Set("status = ?", status).
		Set("processed_at = ?", update.ProcessedAt).
		Set("updated_at = ?", update.ProcessedAt)
	if update.PaymentTransactionID != "" {
		q = q.Set("payment_transaction_id = ?", update.PaymentTransactionID)
	}
	if update.ErrorMessage != "" {
		q = q.Set("error_message = ?", update.ErrorMessage)
	}

	res, err := q.Where("id = ?", id).Where("status = ?", models.ReservationPending).Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to update reservation %s: %w", id, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	s.log.LogDatabase("UPDATE", "mysql", fmt.Sprintf("Reservation %s -> %s (rows=%d)", id, status, rows))
	return rows == 1, nil
}

func (s *MySQLStore) ExpireReservations(ctx context.Context, ids []string, now time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.conn(ctx).NewUpdate().Model((*models.Reservation)(nil)).
		Set("status = ?", models.ReservationExpired).
		Set("processed_at = ?", now).
		Set("updated_at = ?", now).
		Where("id IN (?)", bun.In(ids)).
		Where("status = ?", models.ReservationPending).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to expire reservations: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return int(rows), nil
}

func (s *MySQLStore) RecordPaymentTransaction(ctx context.Context, id, transactionID string) error {
	_, err := s.conn(ctx).NewUpdate().Model((*models.Reservation)(nil)).
		Set("payment_transaction_id = ?", transactionID).
		Set("error_message = NULL").
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("status = ?", models.ReservationPending).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to record payment transaction: %w", err)
	}
	return nil
}

func (s *MySQLStore) RecordReservationError(ctx context.Context, id, message string) error {
	_, err := s.conn(ctx).NewUpdate().Model((*models.Reservation)(nil)).
		Set("error_message = ?", message).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("status = ?", models.ReservationPending).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to record reservation error: %w", err)
	}
	return nil
}

func (s *MySQLStore) SumPendingQuantity(ctx context.Context, houseID string) (int, error) {
	var total int
	err := s.conn(ctx).NewSelect().Model((*models.Reservation)(nil)).
		ColumnExpr("COALESCE(SUM(quantity), 0)").
		Where("house_id = ?", houseID).
		Where("status = ?", models.ReservationPending).
		Scan(ctx, &total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum pending reservations: %w", err)
	}
	return total, nil
}

func (s *MySQLStore) CreateTickets(ctx context.Context, tickets []*models.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}
	s.log.LogDatabase("INSERT", "mysql", fmt.Sprintf("Saving %d tickets for payment %s", len(tickets), tickets[0].PaymentID))
	if _, err := s.conn(ctx).NewInsert().Model(&tickets).Exec(ctx); err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to save tickets: %w", err)
	}
	return nil
}

func (s *MySQLStore) GetTicketsByPayment(ctx context.Context, paymentID string) ([]*models.Ticket, error) {
	var tickets []*models.Ticket
	err := s.conn(ctx).NewSelect().Model(&tickets).
		Where("payment_id = ?", paymentID).
		Where("status = ?", models.TicketActive).
		Order("batch_index ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get tickets by payment: %w", err)
	}
	return tickets, nil
}

func (s *MySQLStore) CountActiveTickets(ctx context.Context, houseID string) (int, error) {
	n, err := s.conn(ctx).NewSelect().Model((*models.Ticket)(nil)).
		Where("house_id = ?", houseID).
		Where("status = ?", models.TicketActive).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count tickets: %w", err)
	}
	return n, nil
}

func (s *MySQLStore) IsParticipant(ctx context.Context, houseID, userID string) (bool, error) {
	db := s.conn(ctx)
	hasTickets, err := db.NewSelect().Model((*models.Ticket)(nil)).
		Where("house_id = ?", houseID).
		Where("user_id = ?", userID).
		Where("status = ?", models.TicketActive).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check ticket holder: %w", err)
	}
	if hasTickets {
		return true, nil
	}

	hasPending, err := db.NewSelect().Model((*models.Reservation)(nil)).
		Where("house_id = ?", houseID).
		Where("user_id = ?", userID).
		Where("status = ?", models.ReservationPending).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check pending reservation: %w", err)
	}
	return hasPending, nil
}

func (s *MySQLStore) ListParticipantIDs(ctx context.Context, houseID string) ([]string, error) {
	db := s.conn(ctx)

	var ticketHolders []string
	if err := db.NewSelect().Model((*models.Ticket)(nil)).
		ColumnExpr("DISTINCT user_id").
		Where("house_id = ?", houseID).
		Where("status = ?", models.TicketActive).
		Scan(ctx, &ticketHolders); err != nil {
		return nil, fmt.Errorf("failed to list ticket holders: %w", err)
	}

	var pendingHolders []string
	if err := db.NewSelect().Model((*models.Reservation)(nil)).
		ColumnExpr("DISTINCT user_id").
		Where("house_id = ?", houseID).
		Where("status = ?", models.ReservationPending).
		Scan(ctx, &pendingHolders); err != nil {
		return nil, fmt.Errorf("failed to list pending holders: %w", err)
	}

	ids := mergeDistinct(ticketHolders, pendingHolders)
	sort.Strings(ids)
	return ids, nil
}

func (s *MySQLStore) SaveAuditRecord(ctx context.Context, record *models.AuditRecord) error {
	s.log.LogDatabase("INSERT", "mysql", fmt.Sprintf("Saving %s audit record for reservation %s", record.Kind, record.ReservationID))
	if _, err := s.conn(ctx).NewInsert().Model(record).Exec(ctx); err != nil {
		return fmt.Errorf("failed to save audit record: %w", err)
	}
	return nil
}

func (s *MySQLStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *MySQLStore) Close() error {
	s.log.LogDatabase("CLOSE", "mysql", "Closing MySQL connection")
	return s.db.Close()
}

func isDuplicate(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlErrDuplicateEntry
}

func isRetryable(err error) bool {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return false
	}
	return myErr.Number == mysqlErrDeadlock || myErr.Number == mysqlErrLockWaitTimeout
}

func mergeDistinct(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
