package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/target/job-launcher/internal/domain/funding"
	"github.com/target/job-launcher/internal/domain/model"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

func newTable(w io.Writer, header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(header)
	return tw
}

// tokens renders a smallest-unit decimal string in whole tokens.
func tokens(wei string) string {
	v, ok := new(big.Int).SetString(wei, 10)
	if !ok {
		return wei
	}
	return funding.FormatUnits(v, funding.Decimals)
}

func renderJobs(w io.Writer, jobs []*model.Job) {
	tw := newTable(w, table.Row{"ID", "User", "Chain", "Type", "Status", "Stage", "Fund", "Fee", "Escrow", "Wait Until"})
	for _, j := range jobs {
		escrow := ""
		switch {
		case j.EscrowAddress != nil:
			escrow = *j.EscrowAddress
		case j.RecordedEscrowAddress != nil:
			escrow = *j.RecordedEscrowAddress + " (recorded)"
		}
		tw.AppendRow(table.Row{
			j.ID, j.UserID, j.ChainID, j.RequestType, j.Status, j.LaunchStage,
			tokens(j.FundAmount), tokens(j.Fee), escrow,
			j.WaitUntil.UTC().Format("2006-01-02 15:04:05"),
		})
	}
	tw.Render()
}

func renderPayments(w io.Writer, payments []*model.Payment) {
	tw := newTable(w, table.Row{"ID", "Job", "Source", "Type", "Amount", "Created"})
	for _, p := range payments {
		job := ""
		if p.JobID != nil {
			job = fmt.Sprint(*p.JobID)
		}
		tw.AppendRow(table.Row{
			p.ID, job, p.Source, p.Type, tokens(p.Amount),
			p.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
		})
	}
	tw.Render()
}

type feeView struct {
	FundAmount         string `json:"fundAmount"`
	TotalFeePercentage int64  `json:"totalFeePercentage"`
	TotalFee           string `json:"totalFee"`
	TotalAmount        string `json:"totalAmount"`
}

func newFeeView(b funding.Breakdown) feeView {
	return feeView{
		FundAmount:         b.FundAmount.String(),
		TotalFeePercentage: b.TotalFeePercentage,
		TotalFee:           b.TotalFee.String(),
		TotalAmount:        b.TotalAmount.String(),
	}
}

func renderFee(w io.Writer, v feeView) {
	tw := newTable(w, table.Row{"", "Smallest Unit", "Tokens"})
	tw.AppendRows([]table.Row{
		{"Fund amount", v.FundAmount, tokens(v.FundAmount)},
		{fmt.Sprintf("Fee (%d%%)", v.TotalFeePercentage), v.TotalFee, tokens(v.TotalFee)},
		{"Total debit", v.TotalAmount, tokens(v.TotalAmount)},
	})
	tw.Render()
}
