package main

import (
	"fmt"
	"io"
	"os"

	"ariga.io/atlas-provider-gorm/gormschema"
	"github.com/nostrstack/paywatch/database/models"
)

// Prints the desired schema for atlas to diff against.
func main() {
	stmts, err := gormschema.New("postgres").Load(&models.Payment{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load gorm schema: %v\n", err)
		os.Exit(1)
	}

	stmts = models.CreatePaymentStatusEnumSQL() + "\n" + stmts

	if _, err := io.WriteString(os.Stdout, stmts); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write to stdout: %v\n", err)
		os.Exit(1)
	}
}
