package agent

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/v1nybarreto/genai-agent/pkg/models"
)

const (
	previewRows = 3

	noResultsAnswer = "Não foi possível obter resultados."
	emptyAnswer     = "Nenhum registro encontrado para o filtro solicitado."
	failurePrefix   = "Não consegui validar/executar a consulta. Detalhes: "
)

// Render phrases a result table as a short answer. A single-row count gives
// "Contagem: N.", a single ranked row gives "<col>: <value> (total: N).",
// larger results list the first rows.
func Render(t *models.Table) string {
	if t == nil {
		return noResultsAnswer
	}
	if t.Len() == 0 {
		return emptyAnswer
	}

	if i := t.ColumnIndex("n"); i >= 0 && t.Len() == 1 {
		if n, ok := asInt(t.Rows[0][i]); ok {
			return fmt.Sprintf("Contagem: %d.", n)
		}
	}

	if ti := t.ColumnIndex("total"); ti >= 0 {
		if t.Len() == 1 {
			key, value := "categoria", interface{}(nil)
			for i, c := range t.Columns {
				if i != ti {
					key, value = c, t.Rows[0][i]
					break
				}
			}
			total, _ := asInt(t.Rows[0][ti])
			return fmt.Sprintf("%s: %s (total: %d).", key, display(value), total)
		}
		return "Top resultados: " + preview(t)
	}

	return "Amostra de resultados: " + preview(t)
}

// RenderFailure phrases a pipeline error for the user
func RenderFailure(err error) string {
	return failurePrefix + err.Error()
}

func preview(t *models.Table) string {
	var rows []string
	for i, row := range t.Rows {
		if i == previewRows {
			break
		}
		cells := make([]string, len(t.Columns))
		for j, c := range t.Columns {
			cells[j] = c + "=" + display(row[j])
		}
		rows = append(rows, strings.Join(cells, ", "))
	}
	return strings.Join(rows, "; ")
}

func display(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "nao_informado"
	case []byte:
		return string(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}

func asInt(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case uint64:
		return int64(x), true
	case float64:
		return int64(x), true
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		return n, err == nil
	case []byte:
		n, err := strconv.ParseInt(string(x), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
