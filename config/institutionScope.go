package config

import (
	"context"
	"strings"

	"github.com/mmdatafocus/tuition_backend/appctx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const institutionColumn = "institution_id"

// InstitutionScopePlugin scopes queries, updates and deletes to the request's institution
// when the model carries an institution_id column.
//
// NOTE: Raw SQL is not scoped. Requests without an institution in context are not scoped either,
// which is how operator tools and the card settlement worker see every institution.
type InstitutionScopePlugin struct{}

func NewInstitutionScopePlugin() *InstitutionScopePlugin { return &InstitutionScopePlugin{} }

func (p *InstitutionScopePlugin) Name() string { return "institution_scope" }

func (p *InstitutionScopePlugin) Initialize(db *gorm.DB) error {
	if err := db.Callback().Query().Before("gorm:query").Register("institution_scope:query", institutionScopeCallback); err != nil {
		return err
	}
	if err := db.Callback().Row().Before("gorm:row").Register("institution_scope:row", institutionScopeCallback); err != nil {
		return err
	}
	if err := db.Callback().Update().Before("gorm:update").Register("institution_scope:update", institutionScopeCallback); err != nil {
		return err
	}
	if err := db.Callback().Delete().Before("gorm:delete").Register("institution_scope:delete", institutionScopeCallback); err != nil {
		return err
	}
	return nil
}

func institutionScopeCallback(db *gorm.DB) {
	if db == nil || db.Statement == nil || db.Statement.Schema == nil {
		return
	}
	institutionId := institutionIdFromContext(db.Statement.Context)
	if institutionId == 0 {
		return
	}
	if db.Statement.Schema.LookUpField(institutionColumn) == nil {
		return
	}
	// Don't duplicate an explicit filter.
	if whereHasInstitution(db.Statement.Clauses["WHERE"]) {
		return
	}
	db.Statement.AddClause(clause.Where{
		Exprs: []clause.Expression{
			clause.Eq{
				Column: clause.Column{Table: db.Statement.Table, Name: institutionColumn},
				Value:  institutionId,
			},
		},
	})
}

func institutionIdFromContext(ctx context.Context) int {
	if ctx == nil {
		return 0
	}
	id, _ := appctx.GetInstitutionId(ctx)
	return id
}

func whereHasInstitution(c clause.Clause) bool {
	w, ok := c.Expression.(clause.Where)
	if !ok {
		return false
	}
	for _, e := range w.Exprs {
		if exprHasInstitution(e) {
			return true
		}
	}
	return false
}

func exprHasInstitution(e clause.Expression) bool {
	switch v := e.(type) {
	case clause.Eq:
		return colIsInstitution(v.Column)
	case clause.IN:
		return colIsInstitution(v.Column)
	case clause.AndConditions:
		for _, x := range v.Exprs {
			if exprHasInstitution(x) {
				return true
			}
		}
	case clause.Expr:
		// Best-effort for raw expressions.
		return strings.Contains(strings.ToLower(v.SQL), institutionColumn)
	}
	return false
}

func colIsInstitution(col any) bool {
	switch c := col.(type) {
	case string:
		return strings.EqualFold(c, institutionColumn)
	case clause.Column:
		return strings.EqualFold(c.Name, institutionColumn)
	}
	return false
}
