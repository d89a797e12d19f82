package kvstore

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/bits"
	"time"

	"github.com/google/uuid"
	"github.com/rail-service/rail_bridge/internal/domain/entities"
	"github.com/rail-service/rail_bridge/internal/domain/repositories"
	"github.com/shopspring/decimal"
)

// Key layout. Account ids cannot contain NUL, so it separates components.
const (
	keyPolicy          = "policy"
	prefixNonce        = "nonce/"
	prefixTransfer     = "transfer/"
	prefixSenderIndex  = "sender/"
	prefixProcessed    = "processed/"
	prefixOutboxQueue  = "outbox/pending/"
	prefixOutboxEvent  = "outbox/event/"
	prefixBalance      = "ledger/balance/"
	prefixAllowance    = "ledger/allowance/"
	prefixLedgerTx     = "ledger/tx/"
	prefixReport       = "recon/report/"
	prefixReportIndex  = "recon/completed/"
	keySeparator       = "\x00"
	outboxQueueKeyFmt  = prefixOutboxQueue + "%010d/%020d/%s"
	senderIndexKeyFmt  = prefixSenderIndex + "%s" + keySeparator + "%020d"
	accountAssetKeyFmt = "%s%s" + keySeparator + "%s"
	reportIndexKeyFmt  = prefixReportIndex + "%020d/%s"
)

func transferKey(id entities.Identifier) string  { return prefixTransfer + hex.EncodeToString(id[:]) }
func processedKey(id entities.Identifier) string { return prefixProcessed + hex.EncodeToString(id[:]) }

// ---- nonces ----

type nonceRepo struct{ s *Store }

func (r *nonceRepo) NextNonce(ctx context.Context, sender string) (uint64, error) {
	var nonce uint64
	err := r.s.run(ctx, func(tx *kvTx) error {
		current, err := readNonce(tx, sender)
		if err != nil {
			return err
		}
		next, carry := bits.Add64(current, 1, 0)
		if carry != 0 {
			return repositories.ErrNonceOverflow
		}
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], next)
		tx.put(prefixNonce+sender, buf[:])
		nonce = current
		return nil
	})
	return nonce, err
}

func (r *nonceRepo) PeekNonce(ctx context.Context, sender string) (uint64, error) {
	var nonce uint64
	err := r.s.run(ctx, func(tx *kvTx) error {
		n, err := readNonce(tx, sender)
		nonce = n
		return err
	})
	return nonce, err
}

func readNonce(tx *kvTx, sender string) (uint64, error) {
	v, ok, err := tx.get(prefixNonce + sender)
	if err != nil || !ok {
		return 0, err
	}
	if len(v) != 8 {
		return 0, fmt.Errorf("corrupt nonce for %s", sender)
	}
	return binary.BigEndian.Uint64(v), nil
}

// ---- transfers ----

type transferRepo struct{ s *Store }

func (r *transferRepo) Create(ctx context.Context, req *entities.TransferRequest) error {
	return r.s.run(ctx, func(tx *kvTx) error {
		key := transferKey(req.Identifier)
		if _, exists, err := tx.get(key); err != nil {
			return err
		} else if exists {
			return repositories.ErrDuplicate
		}
		if err := tx.putJSON(key, req); err != nil {
			return err
		}
		tx.put(fmt.Sprintf(senderIndexKeyFmt, req.Sender, req.Nonce), req.Identifier.Bytes())
		return nil
	})
}

func (r *transferRepo) GetByIdentifier(ctx context.Context, id entities.Identifier) (*entities.TransferRequest, error) {
	var req entities.TransferRequest
	err := r.s.run(ctx, func(tx *kvTx) error {
		found, err := tx.getJSON(transferKey(id), &req)
		if err != nil {
			return err
		}
		if !found {
			return repositories.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *transferRepo) ListBySender(ctx context.Context, sender string, limit, offset int) ([]*entities.TransferRequest, error) {
	var out []*entities.TransferRequest
	err := r.s.run(ctx, func(tx *kvTx) error {
		_, ids, err := tx.scan(prefixSenderIndex + sender + keySeparator)
		if err != nil {
			return err
		}
		for i := len(ids) - 1 - offset; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
			id, err := entities.IdentifierFromBytes(ids[i])
			if err != nil {
				return err
			}
			var req entities.TransferRequest
			found, err := tx.getJSON(transferKey(id), &req)
			if err != nil {
				return err
			}
			if found {
				out = append(out, &req)
			}
		}
		return nil
	})
	return out, err
}

// ---- completions ----

type completionRepo struct{ s *Store }

func (r *completionRepo) MarkProcessed(ctx context.Context, rec *entities.CompletionRecord) error {
	return r.s.run(ctx, func(tx *kvTx) error {
		key := processedKey(rec.Identifier)
		if _, exists, err := tx.get(key); err != nil {
			return err
		} else if exists {
			return repositories.ErrDuplicate
		}
		return tx.putJSON(key, rec)
	})
}

func (r *completionRepo) IsProcessed(ctx context.Context, id entities.Identifier) (bool, error) {
	var exists bool
	err := r.s.run(ctx, func(tx *kvTx) error {
		_, ok, err := tx.get(processedKey(id))
		exists = ok
		return err
	})
	return exists, err
}

func (r *completionRepo) GetCompletion(ctx context.Context, id entities.Identifier) (*entities.CompletionRecord, error) {
	var rec entities.CompletionRecord
	err := r.s.run(ctx, func(tx *kvTx) error {
		found, err := tx.getJSON(processedKey(id), &rec)
		if err != nil {
			return err
		}
		if !found {
			return repositories.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ---- policy ----

type policyRepo struct{ s *Store }

func (r *policyRepo) GetPolicy(ctx context.Context) (*entities.Policy, error) {
	var p entities.Policy
	err := r.s.run(ctx, func(tx *kvTx) error {
		found, err := tx.getJSON(keyPolicy, &p)
		if err != nil {
			return err
		}
		if !found {
			return repositories.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *policyRepo) SavePolicy(ctx context.Context, p *entities.Policy) error {
	return r.s.run(ctx, func(tx *kvTx) error {
		return tx.putJSON(keyPolicy, p)
	})
}

// ---- outbox ----

type outboxRepo struct{ s *Store }

// outboxQueueKey orders pending events by attempts, then age, so events that
// keep failing fall behind fresh ones.
func outboxQueueKey(e *entities.OutboxEvent) string {
	return fmt.Sprintf(outboxQueueKeyFmt, e.Attempts, e.CreatedAt.UnixNano(), e.ID.String())
}

func (r *outboxRepo) Append(ctx context.Context, e *entities.OutboxEvent) error {
	return r.s.run(ctx, func(tx *kvTx) error {
		if err := tx.putJSON(prefixOutboxEvent+e.ID.String(), e); err != nil {
			return err
		}
		tx.put(outboxQueueKey(e), []byte(e.ID.String()))
		return nil
	})
}

func (r *outboxRepo) ListPending(ctx context.Context, limit int) ([]*entities.OutboxEvent, error) {
	var out []*entities.OutboxEvent
	err := r.s.run(ctx, func(tx *kvTx) error {
		_, ids, err := tx.scan(prefixOutboxQueue)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if limit > 0 && len(out) >= limit {
				break
			}
			var e entities.OutboxEvent
			found, err := tx.getJSON(prefixOutboxEvent+string(id), &e)
			if err != nil {
				return err
			}
			if found {
				out = append(out, &e)
			}
		}
		return nil
	})
	return out, err
}

func (r *outboxRepo) MarkDispatched(ctx context.Context, id uuid.UUID) error {
	return r.update(ctx, id, func(e *entities.OutboxEvent, tx *kvTx) {
		tx.delete(outboxQueueKey(e))
		now := time.Now().UTC()
		e.DispatchedAt = &now
		e.Attempts++
	})
}

func (r *outboxRepo) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return r.update(ctx, id, func(e *entities.OutboxEvent, tx *kvTx) {
		tx.delete(outboxQueueKey(e))
		e.Attempts++
		e.LastError = &reason
		tx.put(outboxQueueKey(e), []byte(e.ID.String()))
	})
}

func (r *outboxRepo) update(ctx context.Context, id uuid.UUID, fn func(*entities.OutboxEvent, *kvTx)) error {
	return r.s.run(ctx, func(tx *kvTx) error {
		var e entities.OutboxEvent
		key := prefixOutboxEvent + id.String()
		found, err := tx.getJSON(key, &e)
		if err != nil {
			return err
		}
		if !found {
			return repositories.ErrNotFound
		}
		fn(&e, tx)
		return tx.putJSON(key, &e)
	})
}

func (r *outboxRepo) CountPending(ctx context.Context) (int, error) {
	var n int
	err := r.s.run(ctx, func(tx *kvTx) error {
		keys, _, err := tx.scan(prefixOutboxQueue)
		n = len(keys)
		return err
	})
	return n, err
}

// ---- ledger ----

type ledgerRepo struct{ s *Store }

type ledgerTxRecord struct {
	Transaction *entities.LedgerTransaction `json:"transaction"`
	Entries     []*entities.LedgerEntry     `json:"entries"`
}

func balanceKey(account, asset string) string {
	return fmt.Sprintf(accountAssetKeyFmt, prefixBalance, account, asset)
}

func allowanceKey(owner, asset string) string {
	return fmt.Sprintf(accountAssetKeyFmt, prefixAllowance, owner, asset)
}

func (r *ledgerRepo) GetBalance(ctx context.Context, account, asset string) (decimal.Decimal, error) {
	return r.getAmount(ctx, balanceKey(account, asset))
}

func (r *ledgerRepo) SetBalance(ctx context.Context, account, asset string, balance decimal.Decimal) error {
	return r.s.run(ctx, func(tx *kvTx) error {
		tx.put(balanceKey(account, asset), []byte(balance.String()))
		return nil
	})
}

func (r *ledgerRepo) GetAllowance(ctx context.Context, owner, asset string) (decimal.Decimal, error) {
	return r.getAmount(ctx, allowanceKey(owner, asset))
}

func (r *ledgerRepo) SetAllowance(ctx context.Context, owner, asset string, amount decimal.Decimal) error {
	return r.s.run(ctx, func(tx *kvTx) error {
		tx.put(allowanceKey(owner, asset), []byte(amount.String()))
		return nil
	})
}

func (r *ledgerRepo) getAmount(ctx context.Context, key string) (decimal.Decimal, error) {
	amount := decimal.Zero
	err := r.s.run(ctx, func(tx *kvTx) error {
		v, ok, err := tx.get(key)
		if err != nil || !ok {
			return err
		}
		amount, err = decimal.NewFromString(string(v))
		return err
	})
	return amount, err
}

func (r *ledgerRepo) CreateTransaction(ctx context.Context, ltx *entities.LedgerTransaction, entries []*entities.LedgerEntry) error {
	return r.s.run(ctx, func(tx *kvTx) error {
		return tx.putJSON(prefixLedgerTx+ltx.ID.String(), ledgerTxRecord{Transaction: ltx, Entries: entries})
	})
}

func (r *ledgerRepo) ListBalances(ctx context.Context) ([]*entities.LedgerAccount, error) {
	var out []*entities.LedgerAccount
	err := r.s.run(ctx, func(tx *kvTx) error {
		keys, values, err := tx.scan(prefixBalance)
		if err != nil {
			return err
		}
		for i, k := range keys {
			account, asset, err := splitAccountAsset(k[len(prefixBalance):])
			if err != nil {
				return err
			}
			bal, err := decimal.NewFromString(string(values[i]))
			if err != nil {
				return fmt.Errorf("decode balance %s: %w", k, err)
			}
			out = append(out, &entities.LedgerAccount{Account: account, Asset: asset, Balance: bal})
		}
		return nil
	})
	return out, err
}

func (r *ledgerRepo) SumEntriesByAccount(ctx context.Context) (map[entities.AccountKey]decimal.Decimal, error) {
	sums := make(map[entities.AccountKey]decimal.Decimal)
	err := r.eachLedgerTx(ctx, func(rec ledgerTxRecord) {
		for _, e := range rec.Entries {
			k := entities.AccountKey{Account: e.Account, Asset: e.Asset}
			sums[k] = sums[k].Add(e.Signed())
		}
	})
	return sums, err
}

func (r *ledgerRepo) ListUnbalancedTransactions(ctx context.Context) ([]*entities.UnbalancedTransaction, error) {
	var out []*entities.UnbalancedTransaction
	err := r.eachLedgerTx(ctx, func(rec ledgerTxRecord) {
		net := make(map[string]decimal.Decimal)
		for _, e := range rec.Entries {
			net[e.Asset] = net[e.Asset].Add(e.Signed())
		}
		for asset, n := range net {
			if !n.IsZero() {
				out = append(out, &entities.UnbalancedTransaction{
					TransactionID: rec.Transaction.ID,
					Asset:         asset,
					Net:           n,
				})
			}
		}
	})
	return out, err
}

func (r *ledgerRepo) eachLedgerTx(ctx context.Context, fn func(ledgerTxRecord)) error {
	return r.s.run(ctx, func(tx *kvTx) error {
		keys, values, err := tx.scan(prefixLedgerTx)
		if err != nil {
			return err
		}
		for i := range keys {
			var rec ledgerTxRecord
			if err := json.Unmarshal(values[i], &rec); err != nil {
				return fmt.Errorf("decode %s: %w", keys[i], err)
			}
			fn(rec)
		}
		return nil
	})
}

func splitAccountAsset(s string) (string, string, error) {
	for i := 0; i < len(s); i++ {
		if s[i] == keySeparator[0] {
			return s[:i], s[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("malformed account key %q", s)
}

// ---- reconciliation reports ----

type reportRepo struct{ s *Store }

func (r *reportRepo) Save(ctx context.Context, report *entities.ReconciliationReport) error {
	return r.s.run(ctx, func(tx *kvTx) error {
		if err := tx.putJSON(prefixReport+report.ID.String(), report); err != nil {
			return err
		}
		tx.put(fmt.Sprintf(reportIndexKeyFmt, report.CompletedAt.UnixNano(), report.ID.String()), []byte(report.ID.String()))
		return nil
	})
}

func (r *reportRepo) GetByID(ctx context.Context, id uuid.UUID) (*entities.ReconciliationReport, error) {
	var report entities.ReconciliationReport
	err := r.s.run(ctx, func(tx *kvTx) error {
		found, err := tx.getJSON(prefixReport+id.String(), &report)
		if err != nil {
			return err
		}
		if !found {
			return repositories.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &report, nil
}

func (r *reportRepo) GetLatest(ctx context.Context) (*entities.ReconciliationReport, error) {
	reports, err := r.List(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(reports) == 0 {
		return nil, repositories.ErrNotFound
	}
	return reports[0], nil
}

func (r *reportRepo) List(ctx context.Context, limit int) ([]*entities.ReconciliationReport, error) {
	var out []*entities.ReconciliationReport
	err := r.s.run(ctx, func(tx *kvTx) error {
		_, ids, err := tx.scan(prefixReportIndex)
		if err != nil {
			return err
		}
		for i := len(ids) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
			var report entities.ReconciliationReport
			found, err := tx.getJSON(prefixReport+string(ids[i]), &report)
			if err != nil {
				return err
			}
			if found {
				out = append(out, &report)
			}
		}
		return nil
	})
	return out, err
}
