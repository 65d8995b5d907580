package audit

import (
	"github.com/BurntSushi/migration"
)

// dbVersion tracks the schema version in the database itself, so
// upgrades can be applied on open. It adapts our version table to the
// migration package's interface.
type dbVersion struct {
	GetSQL    string
	SetSQL    string
	CreateSQL string
}

func (d dbVersion) Get(tx migration.LimitedTx) (int, error) {
	v, err := d.get(tx)
	if err != nil {
		// assume the error means there is no version table yet
		err = d.createTable(tx)
		if err == nil {
			v, err = d.get(tx)
		}
	}
	return v, err
}

func (d dbVersion) Set(tx migration.LimitedTx, version int) error {
	return d.set(tx, version)
}

func (d dbVersion) get(tx migration.LimitedTx) (int, error) {
	var version int
	r := tx.QueryRow(d.GetSQL)
	err := r.Scan(&version)
	return version, err
}

func (d dbVersion) set(tx migration.LimitedTx, version int) error {
	_, err := tx.Exec(d.SetSQL, version)
	return err
}

func (d dbVersion) createTable(tx migration.LimitedTx) error {
	_, err := tx.Exec(d.CreateSQL)
	return err
}
