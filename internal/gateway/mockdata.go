package gateway

import (
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// todoCount は /api/todos が返すTODOの件数。
const todoCount = 5

// Todo はモックのTODO項目。
type Todo struct {
	// ID はTODOの一意識別子（UUID）。
	ID string `json:"id"`
	// Owner はトークンのsubject。
	Owner string `json:"owner"`
	// Title はTODOの見出し。
	Title string `json:"title"`
	// Description はTODOの本文。
	Description string `json:"description"`
	// Date は期日。常に未来の日時になる。
	Date time.Time `json:"date"`
}

// Billing はモックの請求情報。
type Billing struct {
	Method     string `json:"method"`
	Last4      string `json:"last4"`
	Expiration string `json:"expiration"`
}

// billingResponse は /api/billing の固定レスポンス。
var billingResponse = gin.H{
	"billing": Billing{
		Method:     "credit-card",
		Last4:      "1234",
		Expiration: "01/2025",
	},
}

// generateTodos はownerを所有者とするTODOをn件生成する。
// 期日はgofakeitのFutureDateで、常に現在より後になる。
func generateTodos(owner string, n int) []Todo {
	todos := make([]Todo, 0, n)
	for range n {
		todos = append(todos, Todo{
			ID:          uuid.NewString(),
			Owner:       owner,
			Title:       gofakeit.Sentence(5),
			Description: gofakeit.Paragraph(1, 3, 10, " "),
			Date:        gofakeit.FutureDate().UTC(),
		})
	}
	return todos
}
