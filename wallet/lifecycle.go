package wallet

import (
	"context"

	"github.com/webwallet-labs/webwallet/channel"
	"github.com/webwallet-labs/webwallet/keyring"
	"github.com/webwallet-labs/webwallet/ledger"
)

// AirdropAmount is the fixed size of a faucet airdrop.
const AirdropAmount uint64 = 1000

// Busy indicator texts.
const (
	busyBalanceTitle = "Updating Account Balance"
	busyAirdropTitle = "Requesting Airdrop"
	busySendTitle    = "Sending Transaction"
	busyConfirmTitle = "Confirming Transaction"
	busyDescription  = "Please wait..."
)

// runExclusive wraps one workflow in the busy indicator discipline: set the
// indicator, run, clear the indicator on every exit path, and surface any
// failure as an error log entry. The exclusion is advisory; callers disable
// their triggers while Busy() is set.
func (s *Session) runExclusive(title string, fn func() error) error {
	s.mu.Lock()
	if s.busy != nil {
		log.Warnf("Workflow %q entered while %q still in flight",
			title, s.busy.Title)
	}
	s.busy = &PendingOperation{
		Title:       title,
		Description: busyDescription,
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.busy = nil
		s.mu.Unlock()
	}()

	if err := fn(); err != nil {
		s.AddError(err.Error())
		return err
	}

	return nil
}

// RefreshBalance fetches the active account's balance and updates the
// session. Without an active account this is a no-op.
func (s *Session) RefreshBalance(ctx context.Context) error {
	s.mu.Lock()
	account, conn := s.account, s.ledger
	s.mu.Unlock()

	if account == nil || conn == nil {
		return nil
	}

	return s.runExclusive(busyBalanceTitle, func() error {
		balance, err := conn.GetBalance(ctx, account.PublicKey())
		if err != nil {
			return err
		}

		s.mu.Lock()
		s.balance = balance
		s.mu.Unlock()

		log.Debugf("Balance of %s is %d", account.PublicKey(), balance)

		return nil
	})
}

// AirdropDisabled reports whether the airdrop trigger should be disabled.
// The ceiling is a UI-level guard; RequestAirdrop itself does not enforce
// it.
func (s *Session) AirdropDisabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.account == nil || s.balance >= AirdropAmount
}

// RequestAirdrop asks the faucet to credit the active account with the
// fixed airdrop amount, then refreshes the balance.
func (s *Session) RequestAirdrop(ctx context.Context) error {
	s.mu.Lock()
	account, conn := s.account, s.ledger
	s.mu.Unlock()

	if account == nil {
		return ErrNoAccount
	}
	if conn == nil {
		return ErrNoLedger
	}

	return s.runExclusive(busyAirdropTitle, func() error {
		err := conn.RequestAirdrop(
			ctx, account.PublicKey(), AirdropAmount,
		)
		if err != nil {
			return err
		}

		return s.refreshBalanceWith(ctx, conn, account)
	})
}

// SendDisabled reports whether the transfer intent is incomplete.
func (s *Session) SendDisabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.recipient == nil || s.amount == nil
}

// SendTransaction executes the transfer intent: submit, await confirmation
// and notify the requester window with the outcome. Exactly one response is
// sent per invocation, {err:true} on failure or {signature, amount} on
// success.
//
// The pending funding request is cleared before the submission resolves so
// it cannot be re-triggered while in flight. On failure the balance is
// re-fetched, fees may have been charged, and the window stays open
// regardless of closeOnSuccess.
func (s *Session) SendTransaction(ctx context.Context,
	closeOnSuccess bool) error {

	s.mu.Lock()
	if s.recipient == nil || s.amount == nil {
		s.mu.Unlock()
		return ErrNoTransfer
	}
	if s.account == nil {
		s.mu.Unlock()
		return ErrNoAccount
	}
	if s.ledger == nil {
		s.mu.Unlock()
		return ErrNoLedger
	}

	// Capture everything at call start; a store change replacing the
	// connection or account mid-flight must not redirect this transfer.
	var (
		account   = s.account
		conn      = s.ledger
		to        = *s.recipient
		amount    = *s.amount
		responder = s.responder
	)

	// Clear the pending request now, before any network call resolves.
	s.request = FundingRequest{}
	s.mu.Unlock()

	if responder != nil {
		responder.ClearPending()
	}

	return s.runExclusive(busySendTitle, func() error {
		signature, err := conn.SubmitTransfer(ctx, account, to, amount)
		if err != nil {
			// Fees may have been deducted despite the failure.
			_ = s.refreshBalanceWith(ctx, conn, account)

			s.respond(responder, channel.ResponseParams{
				Err: true,
			})

			return err
		}

		s.respond(responder, channel.ResponseParams{
			Signature: signature,
			Amount:    amount,
		})

		s.mu.Lock()
		s.recipient = nil
		s.amount = nil
		s.mu.Unlock()

		log.Infof("Transfer of %d to %s confirmed, signature %s",
			amount, to, signature)

		if closeOnSuccess {
			s.closeWindow()
			return nil
		}

		return s.refreshBalanceWith(ctx, conn, account)
	})
}

// ConfirmTransaction polls the network once for the confirmation intent's
// signature and stores the boolean result.
func (s *Session) ConfirmTransaction(ctx context.Context) error {
	s.mu.Lock()
	conn := s.ledger
	signature := s.signature
	s.mu.Unlock()

	if signature == "" {
		return ErrNoSignature
	}
	if conn == nil {
		return ErrNoLedger
	}

	return s.runExclusive(busyConfirmTitle, func() error {
		confirmed, err := conn.ConfirmTransaction(ctx, signature)

		s.mu.Lock()
		if err != nil {
			s.confirmed = nil
		} else {
			s.confirmed = &confirmed
		}
		s.mu.Unlock()

		return err
	})
}

// refreshBalanceWith fetches the balance with an explicitly captured
// connection and account, used inside workflows that must keep using the
// references they started with.
func (s *Session) refreshBalanceWith(ctx context.Context, conn ledger.Ledger,
	account *keyring.Account) error {

	balance, err := conn.GetBalance(ctx, account.PublicKey())
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.balance = balance
	s.mu.Unlock()

	return nil
}

// respond delivers one funding response. Delivery failures are not the
// workflow's failure, they only get logged.
func (s *Session) respond(responder Responder,
	params channel.ResponseParams) {

	if responder == nil {
		return
	}

	err := responder.Respond(channel.MethodAddFundsResponse, params)
	if err != nil {
		log.Errorf("Failed to deliver funding response: %v", err)
	}
}

// closeWindow terminates the wallet window after a terminal send.
func (s *Session) closeWindow() {
	if s.cfg.CloseWindow == nil {
		log.Debugf("No window close hook configured")
		return
	}

	s.cfg.CloseWindow()
}
