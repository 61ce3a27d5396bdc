package sqlite

import (
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
	"github.com/purrmint/purrmint/cashu"
	"github.com/purrmint/purrmint/cashu/nuts/nut04"
	"github.com/purrmint/purrmint/cashu/nuts/nut05"
	"github.com/purrmint/purrmint/crypto"
	"github.com/purrmint/purrmint/mint/storage"
)

//go:embed migrations/*.sql
var migrations embed.FS

var _ storage.MintDB = (*SQLiteDB)(nil)

type SQLiteDB struct {
	db *sql.DB
}

// InitSQLite opens (or creates) mint.sqlite.db under path and applies
// pending migrations.
func InitSQLite(path string) (*SQLiteDB, error) {
	dbpath := filepath.Join(path, "mint.sqlite.db")
	db, err := sql.Open("sqlite3", dbpath)
	if err != nil {
		return nil, err
	}

	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return nil, err
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, fmt.Sprintf("sqlite3://%s", dbpath))
	if err != nil {
		return nil, err
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return nil, fmt.Errorf("error running migrations: %v", err)
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &SQLiteDB{db: db}, nil
}

func (sqlite *SQLiteDB) Close() error {
	return sqlite.db.Close()
}

func (sqlite *SQLiteDB) GetBalance() (uint64, error) {
	var balance uint64
	row := sqlite.db.QueryRow("SELECT balance FROM balance")
	if err := row.Scan(&balance); err != nil {
		return 0, err
	}
	return balance, nil
}

func (sqlite *SQLiteDB) SaveSeed(seed []byte) error {
	_, err := sqlite.db.Exec("INSERT INTO seed (id, seed) VALUES (?, ?)", "id", hex.EncodeToString(seed))
	return err
}

func (sqlite *SQLiteDB) GetSeed() ([]byte, error) {
	var hexSeed string
	row := sqlite.db.QueryRow("SELECT seed FROM seed WHERE id = ?", "id")
	if err := row.Scan(&hexSeed); err != nil {
		return nil, err
	}
	return hex.DecodeString(hexSeed)
}

func (sqlite *SQLiteDB) SaveKeyset(keyset storage.DBKeyset) error {
	_, err := sqlite.db.Exec(`
		INSERT INTO keysets (id, unit, active, derivation_path_idx, input_fee_ppk) VALUES (?, ?, ?, ?, ?)
	`, keyset.Id, keyset.Unit, keyset.Active, keyset.DerivationPathIdx, keyset.InputFeePpk)
	return err
}

func (sqlite *SQLiteDB) GetKeysets() ([]storage.DBKeyset, error) {
	keysets := []storage.DBKeyset{}

	rows, err := sqlite.db.Query("SELECT id, unit, active, derivation_path_idx, input_fee_ppk FROM keysets")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var keyset storage.DBKeyset
		err := rows.Scan(
			&keyset.Id,
			&keyset.Unit,
			&keyset.Active,
			&keyset.DerivationPathIdx,
			&keyset.InputFeePpk,
		)
		if err != nil {
			return nil, err
		}
		keysets = append(keysets, keyset)
	}
	return keysets, rows.Err()
}

func (sqlite *SQLiteDB) UpdateKeysetActive(id string, active bool) error {
	result, err := sqlite.db.Exec("UPDATE keysets SET active = ? WHERE id = ?", active, id)
	if err != nil {
		return err
	}
	return expectOneRow(result, "keyset was not updated")
}

// SaveProofs marks proofs as spent. It fails without saving any of
// them if one was already spent.
func (sqlite *SQLiteDB) SaveProofs(proofs cashu.Proofs) error {
	tx, err := sqlite.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("INSERT INTO proofs (y, amount, keyset_id, secret, c) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, proof := range proofs {
		Y, err := crypto.HashToCurve([]byte(proof.Secret))
		if err != nil {
			return err
		}
		Yhex := hex.EncodeToString(Y.SerializeCompressed())

		if _, err := stmt.Exec(Yhex, proof.Amount, proof.Id, proof.Secret, proof.C); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (sqlite *SQLiteDB) GetProofsUsed(Ys []string) ([]storage.DBProof, error) {
	proofs := []storage.DBProof{}
	if len(Ys) == 0 {
		return proofs, nil
	}

	query := `SELECT y, amount, keyset_id, secret, c FROM proofs WHERE y IN (?` + strings.Repeat(",?", len(Ys)-1) + `)`
	rows, err := sqlite.db.Query(query, toArgs(Ys)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var proof storage.DBProof
		if err := rows.Scan(&proof.Y, &proof.Amount, &proof.Id, &proof.Secret, &proof.C); err != nil {
			return nil, err
		}
		proofs = append(proofs, proof)
	}
	return proofs, rows.Err()
}

func (sqlite *SQLiteDB) SaveMintQuote(mintQuote storage.MintQuote) error {
	_, err := sqlite.db.Exec(
		`INSERT INTO mint_quotes (id, payment_request, payment_hash, amount, state, expiry)
		VALUES (?, ?, ?, ?, ?, ?)`,
		mintQuote.Id,
		mintQuote.PaymentRequest,
		mintQuote.PaymentHash,
		mintQuote.Amount,
		mintQuote.State.String(),
		mintQuote.Expiry,
	)
	return err
}

func (sqlite *SQLiteDB) GetMintQuote(quoteId string) (storage.MintQuote, error) {
	row := sqlite.db.QueryRow(`SELECT id, payment_request, payment_hash, amount, state, expiry
		FROM mint_quotes WHERE id = ?`, quoteId)

	var mintQuote storage.MintQuote
	var state string
	err := row.Scan(
		&mintQuote.Id,
		&mintQuote.PaymentRequest,
		&mintQuote.PaymentHash,
		&mintQuote.Amount,
		&state,
		&mintQuote.Expiry,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.MintQuote{}, storage.ErrQuoteNotFound
		}
		return storage.MintQuote{}, err
	}
	mintQuote.State = nut04.StringToState(state)

	return mintQuote, nil
}

func (sqlite *SQLiteDB) UpdateMintQuoteState(quoteId string, state nut04.State) error {
	result, err := sqlite.db.Exec("UPDATE mint_quotes SET state = ? WHERE id = ?", state.String(), quoteId)
	if err != nil {
		return err
	}
	return expectOneRow(result, "mint quote was not updated")
}

func (sqlite *SQLiteDB) SaveMeltQuote(meltQuote storage.MeltQuote) error {
	_, err := sqlite.db.Exec(`
		INSERT INTO melt_quotes
		(id, request, payment_hash, amount, fee_reserve, state, expiry, preimage)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		meltQuote.Id,
		meltQuote.InvoiceRequest,
		meltQuote.PaymentHash,
		meltQuote.Amount,
		meltQuote.FeeReserve,
		meltQuote.State.String(),
		meltQuote.Expiry,
		meltQuote.Preimage,
	)
	return err
}

func (sqlite *SQLiteDB) GetMeltQuote(quoteId string) (storage.MeltQuote, error) {
	row := sqlite.db.QueryRow(`SELECT id, request, payment_hash, amount, fee_reserve, state, expiry, preimage
		FROM melt_quotes WHERE id = ?`, quoteId)

	var meltQuote storage.MeltQuote
	var state string
	err := row.Scan(
		&meltQuote.Id,
		&meltQuote.InvoiceRequest,
		&meltQuote.PaymentHash,
		&meltQuote.Amount,
		&meltQuote.FeeReserve,
		&state,
		&meltQuote.Expiry,
		&meltQuote.Preimage,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.MeltQuote{}, storage.ErrQuoteNotFound
		}
		return storage.MeltQuote{}, err
	}
	meltQuote.State = nut05.StringToState(state)

	return meltQuote, nil
}

func (sqlite *SQLiteDB) UpdateMeltQuote(quoteId, preimage string, state nut05.State) error {
	result, err := sqlite.db.Exec(
		"UPDATE melt_quotes SET state = ?, preimage = ? WHERE id = ?",
		state.String(), preimage, quoteId,
	)
	if err != nil {
		return err
	}
	return expectOneRow(result, "melt quote was not updated")
}

func (sqlite *SQLiteDB) SaveBlindSignatures(B_s []string, blindSignatures cashu.BlindedSignatures) error {
	if len(B_s) != len(blindSignatures) {
		return errors.New("number of blinded messages and signatures do not match")
	}

	tx, err := sqlite.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("INSERT INTO blind_signatures (b_, c_, keyset_id, amount) VALUES (?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, sig := range blindSignatures {
		if _, err := stmt.Exec(B_s[i], sig.C_, sig.Id, sig.Amount); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (sqlite *SQLiteDB) GetBlindSignature(B_ string) (cashu.BlindedSignature, error) {
	row := sqlite.db.QueryRow("SELECT amount, c_, keyset_id FROM blind_signatures WHERE b_ = ?", B_)

	var signature cashu.BlindedSignature
	if err := row.Scan(&signature.Amount, &signature.C_, &signature.Id); err != nil {
		return cashu.BlindedSignature{}, err
	}
	return signature, nil
}

func (sqlite *SQLiteDB) GetBlindSignatures(B_s []string) (cashu.BlindedSignatures, error) {
	signatures := cashu.BlindedSignatures{}
	if len(B_s) == 0 {
		return signatures, nil
	}

	query := `SELECT amount, c_, keyset_id FROM blind_signatures WHERE b_ IN (?` + strings.Repeat(",?", len(B_s)-1) + `)`
	rows, err := sqlite.db.Query(query, toArgs(B_s)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var signature cashu.BlindedSignature
		if err := rows.Scan(&signature.Amount, &signature.C_, &signature.Id); err != nil {
			return nil, err
		}
		signatures = append(signatures, signature)
	}
	return signatures, rows.Err()
}

func toArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

func expectOneRow(result sql.Result, msg string) error {
	count, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if count != 1 {
		return errors.New(msg)
	}
	return nil
}
