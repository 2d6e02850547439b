package solana

import (
	"context"
	"strconv"

	"github.com/gagliardetto/solana-go"
)

// nativeDecimals is the number of lamports per SOL expressed as a power of ten.
const nativeDecimals = 9

// Balance returns owner's native balance when mint is nil, otherwise the
// balance of owner's associated account for mint. An owner without an
// associated account holds zero.
func (c *Client) Balance(ctx context.Context, owner solana.PublicKey, mint *solana.PublicKey) (*Balance, error) {
	if mint == nil {
		lamports, err := c.NativeBalance(ctx, owner)
		if err != nil {
			return nil, err
		}
		return &Balance{
			Owner:    owner,
			Amount:   lamports,
			Decimals: nativeDecimals,
			UIAmount: FormatAmount(lamports, nativeDecimals),
		}, nil
	}

	account, err := DeriveAssociatedAddress(owner, *mint)
	if err != nil {
		return nil, err
	}
	out := &Balance{Owner: owner, Mint: mint, Account: account.ToPointer()}

	amount, err := c.TokenAccountBalance(ctx, account)
	if err != nil {
		if !isNotFound(err) && !isMissingTokenAccount(err) {
			return nil, err
		}
		info, err := c.GetMint(ctx, *mint)
		if err != nil {
			return nil, err
		}
		out.Decimals = info.Decimals
		out.UIAmount = FormatAmount(0, info.Decimals)
		return out, nil
	}

	raw, err := strconv.ParseUint(amount.Amount, 10, 64)
	if err != nil {
		return nil, &NetworkError{Op: "get token account balance", Err: err}
	}
	out.Amount = raw
	out.Decimals = amount.Decimals
	out.UIAmount = FormatAmount(raw, amount.Decimals)
	return out, nil
}

// isMissingTokenAccount matches the error nodes return for getTokenAccountBalance
// on an account that does not exist.
func isMissingTokenAccount(err error) bool {
	return containsFold(errorMessage(err), "could not find account") ||
		containsFold(errorMessage(err), "invalid param: not a token account")
}
