package backup

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"dbvault/internal/database"
	"dbvault/internal/health"
)

// DumpFormatVersion is written into the header line
const DumpFormatVersion = "1.0"

const dumpTimeLayout = "2006-01-02 15:04:05"

// dumpWriter renders the dump layout onto a buffered stream
type dumpWriter struct {
	w   *bufio.Writer
	err error
}

func newDumpWriter(w io.Writer) *dumpWriter {
	return &dumpWriter{w: bufio.NewWriterSize(w, 256*1024)}
}

func (d *dumpWriter) write(p []byte) {
	if d.err != nil {
		return
	}
	_, d.err = d.w.Write(p)
}

func (d *dumpWriter) writeString(s string) {
	d.write([]byte(s))
}

func (d *dumpWriter) printf(format string, args ...interface{}) {
	d.writeString(fmt.Sprintf(format, args...))
}

// Flush pushes buffered bytes to the file and reports the first write error
func (d *dumpWriter) Flush() error {
	if d.err != nil {
		return d.err
	}
	d.err = d.w.Flush()
	return d.err
}

func (d *dumpWriter) Err() error {
	return d.err
}

func (d *dumpWriter) writeHeader(vars map[string]string, databaseName string, startedAt time.Time) {
	d.printf("-- %s %s\n", health.DumpHeaderToken, DumpFormatVersion)
	d.writeString("--\n")
	d.printf("-- Host: %s    Database: %s\n", orUnknown(vars["hostname"]), databaseName)
	d.writeString("-- ------------------------------------------------------\n")
	d.printf("-- Server version\t%s\n", orUnknown(strings.TrimSpace(vars["version"]+" "+vars["version_comment"])))
	if cs := vars["character_set_database"]; cs != "" {
		d.printf("-- Character set\t%s (%s)\n", cs, vars["collation_database"])
	}
	d.printf("-- Dump started on %s\n\n", startedAt.Format(dumpTimeLayout))

	d.writeString("/*!40101 SET @OLD_CHARACTER_SET_CLIENT=@@CHARACTER_SET_CLIENT */;\n")
	d.writeString("/*!40101 SET @OLD_CHARACTER_SET_RESULTS=@@CHARACTER_SET_RESULTS */;\n")
	d.writeString("/*!40101 SET @OLD_COLLATION_CONNECTION=@@COLLATION_CONNECTION */;\n")
	d.writeString("/*!40101 SET NAMES utf8mb4 */;\n")
	d.writeString("/*!40103 SET @OLD_TIME_ZONE=@@TIME_ZONE */;\n")
	d.writeString("/*!40103 SET TIME_ZONE='+00:00' */;\n")
	d.writeString("/*!40014 SET @OLD_UNIQUE_CHECKS=@@UNIQUE_CHECKS, UNIQUE_CHECKS=0 */;\n")
	d.writeString("/*!40014 SET @OLD_FOREIGN_KEY_CHECKS=@@FOREIGN_KEY_CHECKS, FOREIGN_KEY_CHECKS=0 */;\n")
	d.writeString("/*!40101 SET @OLD_SQL_MODE=@@SQL_MODE, SQL_MODE='NO_AUTO_VALUE_ON_ZERO' */;\n")
	d.writeString("/*!40111 SET @OLD_SQL_NOTES=@@SQL_NOTES, SQL_NOTES=0 */;\n\n")
}

func (d *dumpWriter) writeTableSchema(table, createStatement string) {
	q := database.QuoteIdentifier(table)
	d.writeString("--\n")
	d.printf("-- Table structure for table %s\n", q)
	d.writeString("--\n\n")
	d.printf("DROP TABLE IF EXISTS %s;\n", q)
	d.writeString("/*!40101 SET @saved_cs_client     = @@character_set_client */;\n")
	d.writeString("/*!40101 SET character_set_client = utf8mb4 */;\n")
	d.writeString(strings.TrimRight(createStatement, "; \n"))
	d.writeString(";\n")
	d.writeString("/*!40101 SET character_set_client = @saved_cs_client */;\n\n")
}

func (d *dumpWriter) beginTableData(table string) {
	q := database.QuoteIdentifier(table)
	d.writeString("--\n")
	d.printf("-- Dumping data for table %s\n", q)
	d.writeString("--\n\n")
	d.printf("LOCK TABLES %s WRITE;\n", q)
	d.printf("/*!40000 ALTER TABLE %s DISABLE KEYS */;\n", q)
}

// writeInsert writes one INSERT statement; tuples is the already encoded "(..),(..)" list
func (d *dumpWriter) writeInsert(table string, tuples []byte) {
	d.printf("INSERT INTO %s VALUES ", database.QuoteIdentifier(table))
	d.write(tuples)
	d.writeString(";\n")
}

func (d *dumpWriter) endTableData(table string) {
	d.printf("/*!40000 ALTER TABLE %s ENABLE KEYS */;\n", database.QuoteIdentifier(table))
	d.writeString("UNLOCK TABLES;\n\n")
}

func (d *dumpWriter) writeFooter(completedAt time.Time) {
	d.writeString("/*!40101 SET SQL_MODE=@OLD_SQL_MODE */;\n")
	d.writeString("/*!40014 SET FOREIGN_KEY_CHECKS=@OLD_FOREIGN_KEY_CHECKS */;\n")
	d.writeString("/*!40014 SET UNIQUE_CHECKS=@OLD_UNIQUE_CHECKS */;\n")
	d.writeString("/*!40103 SET TIME_ZONE=@OLD_TIME_ZONE */;\n")
	d.writeString("/*!40101 SET CHARACTER_SET_CLIENT=@OLD_CHARACTER_SET_CLIENT */;\n")
	d.writeString("/*!40101 SET CHARACTER_SET_RESULTS=@OLD_CHARACTER_SET_RESULTS */;\n")
	d.writeString("/*!40101 SET COLLATION_CONNECTION=@OLD_COLLATION_CONNECTION */;\n")
	d.writeString("/*!40111 SET SQL_NOTES=@OLD_SQL_NOTES */;\n\n")
	d.printf("-- Dump completed on %s\n", completedAt.Format(dumpTimeLayout))
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
