// Package textutil provides title and file name clean-up shared by the site
// loaders and the transfer engine.
package textutil
