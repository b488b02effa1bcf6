// Package settings holds the persisted device configuration.
//
// The [Store] owns network identity, access point identity, authentication
// credentials, the static IP block, and the four safety maxima that bound the
// pulse output. It implements [form.Validator] for the setting field codes
// 100 through 114 and reads and writes a flat JSON record through a [Backend].
//
// Mutations made through Apply live only in memory until [Store.Save] is
// called.
package settings
