package payout

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/escrow-hub/escrow-hub/internal/ledger"
	"github.com/escrow-hub/escrow-hub/internal/ledger/mocks"
)

func TestComputeSplitScenario(t *testing.T) {
	split := ComputeSplit(10, []string{"a", "b", "c"})
	require.Len(t, split, 3)
	for _, amount := range split {
		require.Equal(t, int64(3), amount)
	}
	require.Equal(t, int64(1), Remainder(10, split))
}

func TestComputeSplitBounds(t *testing.T) {
	cases := []struct {
		pool  int64
		count int
	}{
		{10, 3}, {100, 7}, {1, 2}, {999, 10}, {5, 5}, {7, 1},
	}
	for _, tc := range cases {
		recipients := make([]string, tc.count)
		for i := range recipients {
			recipients[i] = fmt.Sprintf("acct:%d", i)
		}
		split := ComputeSplit(tc.pool, recipients)

		var sum int64
		for _, amount := range split {
			sum += amount
		}
		require.LessOrEqual(t, sum, tc.pool, "split overspends pool=%d count=%d", tc.pool, tc.count)
		require.Less(t, tc.pool-sum, int64(tc.count), "remainder too large pool=%d count=%d", tc.pool, tc.count)
	}
}

func TestComputeSplitEmptyRecipients(t *testing.T) {
	require.Empty(t, ComputeSplit(100, nil))
}

func TestIssuePayoutPartialFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	svc := NewService(client, zerolog.Nop())
	call := ledger.CallContext{Account: "acct:creator", ChainID: "board-test"}

	// Recipients are issued in sorted order; the middle leg fails.
	client.EXPECT().Submit(gomock.Any(), call, ledger.PayoutOp{CampaignID: 5, Recipient: "acct:a", Amount: 3}).
		Return(&ledger.SubmitReceipt{TxID: "0xa"}, nil)
	client.EXPECT().Submit(gomock.Any(), call, ledger.PayoutOp{CampaignID: 5, Recipient: "acct:b", Amount: 3}).
		Return(nil, &ledger.RejectedError{Reason: "insufficient funds"})
	client.EXPECT().Submit(gomock.Any(), call, ledger.PayoutOp{CampaignID: 5, Recipient: "acct:c", Amount: 3}).
		Return(&ledger.SubmitReceipt{TxID: "0xc"}, nil)

	results := svc.IssuePayout(context.Background(), call, 5, map[string]int64{
		"acct:a": 3, "acct:b": 3, "acct:c": 3,
	})

	require.Len(t, results, 3)
	require.Equal(t, "0xa", results[0].TxID)
	require.NoError(t, results[0].Err)
	require.Error(t, results[1].Err)
	require.True(t, errors.Is(results[1].Err, ledger.ErrRejected))
	require.Equal(t, "0xc", results[2].TxID)
	require.NoError(t, results[2].Err)
}
