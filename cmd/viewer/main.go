package main

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
)

type Config struct {
	BadgerFilepath string `env:"BADGER_FILEPATH,required=true"`
}

// Local copies of the stored shapes to keep the viewer independent from
// the repositories package.
type storedConversation struct {
	ID        string `cbor:"1,keyasint"`
	VisitorID string `cbor:"2,keyasint"`
	Language  string `cbor:"3,keyasint"`
	CreatedAt int64  `cbor:"4,keyasint"`
}

type storedMessage struct {
	ID           string `cbor:"1,keyasint"`
	Conversation string `cbor:"2,keyasint"`
	Sender       string `cbor:"3,keyasint"`
	Text         string `cbor:"4,keyasint"`
	At           int64  `cbor:"5,keyasint"`
}

func main() {
	// 1. Load config
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		log.Fatalf("Config error: %v", err)
	}

	// 2. Open Badger in Read-Only mode
	// Note: BypassLockGuard allows opening if the server process holds the lock
	opts := badger.DefaultOptions(config.BadgerFilepath).
		WithReadOnly(true).
		WithBypassLockGuard(true).
		WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := dumpConversations(db); err != nil {
		log.Fatalf("Failed to dump conversations: %v", err)
	}
	if err := dumpMessages(db); err != nil {
		log.Fatalf("Failed to dump messages: %v", err)
	}
}

func dumpConversations(db *badger.DB) error {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Conversation", "Visitor", "Language", "Created"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	err := scanPrefix(db, "conv:", func(_ string, value []byte) error {
		var c storedConversation
		if err := cbor.Unmarshal(value, &c); err != nil {
			return err
		}
		table.Append([]string{
			c.ID, c.VisitorID, c.Language,
			time.Unix(0, c.CreatedAt).UTC().Format(time.RFC3339),
		})
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Println("Conversations:")
	table.Render()
	return nil
}

func dumpMessages(db *badger.DB) error {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Conversation", "Sender", "Text", "At"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	err := scanPrefix(db, "msg:", func(_ string, value []byte) error {
		var m storedMessage
		if err := cbor.Unmarshal(value, &m); err != nil {
			return err
		}
		table.Append([]string{
			shortID(m.Conversation), m.Sender, m.Text,
			time.Unix(0, m.At).UTC().Format(time.RFC3339),
		})
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Println("Messages:")
	table.Render()
	return nil
}

func scanPrefix(db *badger.DB, prefix string, fn func(key string, value []byte) error) error {
	return db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			err := item.Value(func(value []byte) error {
				return fn(string(item.Key()), value)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
