// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package postgres

import (
	"fmt"
	"strings"
	"unicode"
)

// maxIdentifierLength é o limite de identificador do Postgres (NAMEDATALEN - 1).
const maxIdentifierLength = 63

// sanitizeTableName converte o nome de uma mapping em um identificador de
// tabela seguro: hífens viram underscore, como no adaptador original, e o
// resultado é validado antes de ser interpolado em SQL.
func sanitizeTableName(mappingName string) (string, error) {
	return validIdent(strings.ReplaceAll(mappingName, "-", "_"))
}

// validIdent rejeita qualquer coisa que não seja um identificador SQL
// simples. Previne injection via nome de schema/tabela vindo de configuração.
func validIdent(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > maxIdentifierLength {
		return "", fmt.Errorf("identifier %q exceeds max length %d", name, maxIdentifierLength)
	}
	for i, r := range name {
		isLetter := unicode.IsLetter(r) && r < unicode.MaxASCII
		isDigit := unicode.IsDigit(r) && r < unicode.MaxASCII
		switch {
		case i == 0 && !isLetter && r != '_':
			return "", fmt.Errorf("identifier %q must start with a letter or underscore", name)
		case i > 0 && !isLetter && !isDigit && r != '_':
			return "", fmt.Errorf("identifier %q contains an invalid character %q", name, r)
		}
	}
	return name, nil
}
