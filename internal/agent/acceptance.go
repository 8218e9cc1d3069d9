package agent

import (
	"context"
	"strconv"
	"strings"

	"github.com/v1nybarreto/genai-agent/internal/utils"
)

// AcceptanceQuestions are the reference questions, numbered from 1
var AcceptanceQuestions = []string{
	"Quantos chamados foram abertos no dia 28/11/2024?",
	"Qual o subtipo de chamado mais comum relacionado a Iluminação Pública?",
	"Quais os 3 bairros que mais tiveram chamados abertos sobre reparo de buraco em 2023?",
	"Qual o nome da unidade organizacional que mais atendeu chamados de Fiscalização de estacionamento irregular?",
	"Olá, tudo bem?",
	"Me dê sugestões de brincadeiras para fazer com meu cachorro!",
}

// SelectQuestions turns "1,3,6" into zero-based indexes. Unknown or out of
// range tokens are skipped; an empty selection means every question.
func SelectQuestions(only string, total int) []int {
	var out []int
	for _, tok := range strings.Split(only, ",") {
		i, err := strconv.Atoi(strings.TrimSpace(tok))
		if err != nil || i < 1 || i > total {
			continue
		}
		out = append(out, i-1)
	}
	if len(out) == 0 {
		out = make([]int, total)
		for i := range out {
			out[i] = i
		}
	}
	return out
}

// RunAcceptance asks the selected questions in order and summarizes each one
func (a *Agent) RunAcceptance(ctx context.Context, questions []string, indexes []int) []utils.AcceptanceRow {
	rows := make([]utils.AcceptanceRow, 0, len(indexes))
	for _, idx := range indexes {
		if ctx.Err() != nil {
			break
		}
		resp := a.Ask(ctx, questions[idx])
		rows = append(rows, SummaryRow(idx+1, resp))
	}
	return rows
}

// SummaryRow flattens a response for printing or JSON export
func SummaryRow(index int, resp *Response) utils.AcceptanceRow {
	row := utils.AcceptanceRow{
		Index:          index,
		Question:       resp.Question,
		Intent:         string(resp.Intent),
		EstimatedBytes: resp.EstimatedBytes(),
		LatencyMs:      resp.Latency().Milliseconds(),
		Answer:         resp.Answer,
	}
	if resp.Query != nil {
		row.Shape = resp.Query.Shape.String()
		row.SQL = resp.Query.Text
	}
	if resp.Result != nil {
		row.Stage = resp.Result.Stage.String()
		row.Rows = resp.Result.Rows.Len()
	}
	if resp.Err != nil {
		row.Error = resp.Err.Error()
	}
	return row
}
